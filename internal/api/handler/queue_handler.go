package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/r03el/photograbber/internal/api/dto"
	"github.com/r03el/photograbber/internal/ingest"
	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/queue/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Submit handles POST /api/v1/submissions
// Accepts a submission into the queue, or onto the broker when one is configured
func (h *QueueHandler) Submit(c *gin.Context) {
	var req dto.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	msg := ingest.SubmissionMessage{
		FileRef:       req.FileRef,
		GroupID:       req.GroupID,
		UserID:        req.UserID,
		SubmittedAtMs: req.SubmittedAtMs,
		MediaKind:     req.MediaKind,
		MimeType:      req.MimeType,
		FileName:      req.OriginalFileName,
	}
	if msg.SubmittedAtMs == 0 {
		msg.SubmittedAtMs = time.Now().UnixMilli()
	}

	sub, err := msg.Submission()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if !h.groups.Admits(sub) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Group is not monitored",
		})
		return
	}

	ctx := c.Request.Context()

	if h.submitter != nil {
		if err := h.submitter.Submit(ctx, sub); err != nil {
			h.logger.Error("Failed to publish submission",
				slog.String("file_ref", sub.ExternalFileRef),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to publish submission",
			})
			return
		}

		c.JSON(http.StatusAccepted, dto.SubmissionResponse{
			FileRef:  sub.ExternalFileRef,
			Accepted: true,
			Async:    true,
		})
		return
	}

	inserted, err := h.queue.Enqueue(ctx, sub)
	if err != nil {
		h.respondStoreError(c, "Failed to enqueue submission", err)
		return
	}

	status := http.StatusCreated
	if !inserted {
		status = http.StatusOK
	}
	c.JSON(status, dto.SubmissionResponse{
		FileRef:   sub.ExternalFileRef,
		Accepted:  inserted,
		Duplicate: !inserted,
	})
}

// GetItem handles GET /api/v1/queue/:id
func (h *QueueHandler) GetItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a positive integer",
		})
		return
	}

	item, err := h.queue.GetItem(c.Request.Context(), id)
	if errors.Is(err, domain.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Queue item not found",
		})
		return
	}
	if err != nil {
		h.respondStoreError(c, "Failed to get queue item", err)
		return
	}

	c.JSON(http.StatusOK, toItemDTO(item))
}

// ListItems handles GET /api/v1/queue
// Lists queue items in queue order with optional filtering and cursor pagination
func (h *QueueHandler) ListItems(c *gin.Context) {
	var req dto.ListItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := domain.Status(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown status " + strconv.Quote(req.Status),
		})
		return
	}
	kind := domain.MediaKind(req.MediaKind)
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown media kind " + strconv.Quote(req.MediaKind),
		})
		return
	}

	cursor, err := DecodeItemCursor(req.Cursor)
	if err != nil {
		h.logger.Debug("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	items, err := h.queue.ListItems(c.Request.Context(), storage.ItemFilter{
		Status:    status,
		MediaKind: kind,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.respondStoreError(c, "Failed to list queue items", err)
		return
	}

	hasMore := len(items) > req.PageSize
	if hasMore {
		items = items[:req.PageSize]
	}

	resp := dto.ListItemsResponse{Items: make([]dto.QueueItemDTO, len(items))}
	for i := range items {
		resp.Items[i] = toItemDTO(&items[i])
	}

	if hasMore {
		last := items[len(items)-1]
		resp.NextCursor = EncodeItemCursor(&storage.ItemCursor{CreatedAtMs: last.CreatedAtMs, ID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

// Status handles GET /api/v1/status
func (h *QueueHandler) Status(c *gin.Context) {
	report, err := h.queue.Report(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, "Failed to build status report", err)
		return
	}

	c.JSON(http.StatusOK, toStatusResponse(report))
}

// Requeue handles POST /api/v1/queue/requeue
// Returns failed items below the retry budget to pending
func (h *QueueHandler) Requeue(c *gin.Context) {
	var req dto.RequeueRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	maxRetries := h.maxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "max_retries must not be negative",
		})
		return
	}

	n, err := h.queue.RequeueEligibleFailures(c.Request.Context(), maxRetries)
	if err != nil {
		h.respondStoreError(c, "Failed to requeue failed items", err)
		return
	}

	h.logger.Info("Failed items requeued",
		slog.Int64("requeued", n),
		slog.Int("max_retries", maxRetries),
	)

	c.JSON(http.StatusOK, dto.RequeueResponse{Requeued: n, MaxRetries: maxRetries})
}

func (h *QueueHandler) respondStoreError(c *gin.Context, message string, err error) {
	h.logger.Error(message, slog.String("error", err.Error()))

	switch {
	case errors.Is(err, domain.ErrInvalidSubmission):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func toItemDTO(item *domain.QueueItem) dto.QueueItemDTO {
	return dto.QueueItemDTO{
		ID:               item.ID,
		FileRef:          item.ExternalFileRef,
		GroupID:          item.OriginGroupID,
		UserID:           item.OriginUserID,
		SubmittedAt:      formatMs(item.SubmittedAtMs),
		MediaKind:        string(item.MediaKind),
		Status:           string(item.Status),
		RetryCount:       item.RetryCount,
		LastError:        item.LastError,
		OriginalFileName: item.OriginalFileName,
		CreatedAt:        formatMs(item.CreatedAtMs),
		UpdatedAt:        formatMs(item.UpdatedAtMs),
	}
}

func toStatusResponse(report *domain.StatusReport) dto.StatusResponse {
	resp := dto.StatusResponse{
		Pending:     report.Pending,
		Processing:  report.Processing,
		Failed:      report.Failed,
		Completed:   report.Completed,
		ByMediaKind: make(map[string]int64, len(report.ByMediaKind)),
	}
	if report.LastCompletedAt != nil {
		s := report.LastCompletedAt.UTC().Format(time.RFC3339)
		resp.LastCompletedAt = &s
	}
	if report.AverageLatency != nil {
		ms := report.AverageLatency.Milliseconds()
		resp.AverageLatencyMs = &ms
	}
	for kind, n := range report.ByMediaKind {
		resp.ByMediaKind[string(kind)] = n
	}
	return resp
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
