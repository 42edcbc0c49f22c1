package dto

type SubmissionRequest struct {
	FileRef          string `json:"file_ref" binding:"required"`
	GroupID          int64  `json:"group_id"`
	UserID           int64  `json:"user_id"`
	SubmittedAtMs    int64  `json:"submitted_at_ms"`
	MediaKind        string `json:"media_kind" binding:"required"`
	MimeType         string `json:"mime_type"`
	OriginalFileName string `json:"original_file_name"`
}

type SubmissionResponse struct {
	FileRef   string `json:"file_ref"`
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	// Async is true when the submission went to the broker rather than the queue
	Async bool `json:"async"`
}

type ListItemsRequest struct {
	Status    string `form:"status"`
	MediaKind string `form:"media_kind"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListItemsResponse struct {
	Items      []QueueItemDTO `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type QueueItemDTO struct {
	ID               int64   `json:"id"`
	FileRef          string  `json:"file_ref"`
	GroupID          int64   `json:"group_id"`
	UserID           int64   `json:"user_id"`
	SubmittedAt      string  `json:"submitted_at"`
	MediaKind        string  `json:"media_kind"`
	Status           string  `json:"status"`
	RetryCount       int     `json:"retry_count"`
	LastError        *string `json:"last_error,omitempty"`
	OriginalFileName *string `json:"original_file_name,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type StatusResponse struct {
	Pending          int64            `json:"pending"`
	Processing       int64            `json:"processing"`
	Failed           int64            `json:"failed"`
	Completed        int64            `json:"completed"`
	LastCompletedAt  *string          `json:"last_completed_at"`
	AverageLatencyMs *int64           `json:"average_latency_ms"`
	ByMediaKind      map[string]int64 `json:"by_media_kind"`
}

type RequeueRequest struct {
	MaxRetries *int `json:"max_retries"`
}

type RequeueResponse struct {
	Requeued   int64 `json:"requeued"`
	MaxRetries int   `json:"max_retries"`
}

type GalleryItemDTO struct {
	Location         string `json:"location"`
	URL              string `json:"url"`
	FileRef          string `json:"file_ref"`
	GroupID          int64  `json:"group_id"`
	UserID           int64  `json:"user_id"`
	SubmittedAt      string `json:"submitted_at"`
	MediaKind        string `json:"media_kind"`
	OriginalFileName string `json:"original_file_name,omitempty"`
}

type GalleryResponse struct {
	Items []GalleryItemDTO `json:"items"`
	Total int              `json:"total"`
}
