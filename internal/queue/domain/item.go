package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueueItem is a row of the upload queue
type QueueItem struct {
	ID               int64     `db:"id" json:"id"`
	ExternalFileRef  string    `db:"external_file_ref" json:"external_file_ref"`
	OriginGroupID    int64     `db:"origin_group_id" json:"origin_group_id"`
	OriginUserID     int64     `db:"origin_user_id" json:"origin_user_id"`
	SubmittedAtMs    int64     `db:"submitted_at_ms" json:"submitted_at_ms"`
	MediaKind        MediaKind `db:"media_kind" json:"media_kind"`
	Status           Status    `db:"status" json:"status"`
	RetryCount       int       `db:"retry_count" json:"retry_count"`
	LastError        *string   `db:"last_error" json:"last_error,omitempty"`
	OriginalFileName *string   `db:"original_file_name" json:"original_file_name,omitempty"`
	CreatedAtMs      int64     `db:"created_at_ms" json:"created_at_ms"`
	UpdatedAtMs      int64     `db:"updated_at_ms" json:"updated_at_ms"`
}

// Metadata returns the executor view of the item
func (q *QueueItem) Metadata() MediaMetadata {
	meta := MediaMetadata{
		GroupID:     q.OriginGroupID,
		UserID:      q.OriginUserID,
		SubmittedAt: time.UnixMilli(q.SubmittedAtMs),
		Kind:        q.MediaKind,
	}
	if q.OriginalFileName != nil {
		meta.OriginalFileName = *q.OriginalFileName
	}
	return meta
}

// HistoryRecord is an append-only record of a completed upload
type HistoryRecord struct {
	ID               int64     `db:"id" json:"id"`
	ExternalFileRef  string    `db:"external_file_ref" json:"external_file_ref"`
	OriginGroupID    int64     `db:"origin_group_id" json:"origin_group_id"`
	OriginUserID     int64     `db:"origin_user_id" json:"origin_user_id"`
	SubmittedAtMs    int64     `db:"submitted_at_ms" json:"submitted_at_ms"`
	MediaKind        MediaKind `db:"media_kind" json:"media_kind"`
	OriginalFileName *string   `db:"original_file_name" json:"original_file_name,omitempty"`
	StorageLocation  string    `db:"storage_location" json:"storage_location"`
	CompletedAtMs    int64     `db:"completed_at_ms" json:"completed_at_ms"`
}

// Submission is the producer input to the queue
type Submission struct {
	ExternalFileRef  string    `json:"file_ref"`
	OriginGroupID    int64     `json:"group_id"`
	OriginUserID     int64     `json:"user_id"`
	SubmittedAtMs    int64     `json:"submitted_at_ms"`
	MediaKind        MediaKind `json:"media_kind"`
	OriginalFileName string    `json:"original_file_name,omitempty"`
}

// Validate checks the submission fields the queue relies on
func (s *Submission) Validate() error {
	if strings.TrimSpace(s.ExternalFileRef) == "" {
		return fmt.Errorf("%w: file_ref is required", ErrInvalidSubmission)
	}
	if !s.MediaKind.Valid() {
		return fmt.Errorf("%w: unknown media kind %q", ErrInvalidSubmission, s.MediaKind)
	}
	if s.SubmittedAtMs < 0 {
		return fmt.Errorf("%w: submitted_at_ms must not be negative", ErrInvalidSubmission)
	}
	return nil
}

// MediaMetadata is the typed context handed to the upload executor
type MediaMetadata struct {
	GroupID          int64
	UserID           int64
	SubmittedAt      time.Time
	Kind             MediaKind
	OriginalFileName string
}

// StatusReport aggregates queue and history counters for operators.
// Fields are gathered by independent queries.
type StatusReport struct {
	Pending         int64
	Processing      int64
	Failed          int64
	Completed       int64
	LastCompletedAt *time.Time
	AverageLatency  *time.Duration
	ByMediaKind     map[MediaKind]int64
}
