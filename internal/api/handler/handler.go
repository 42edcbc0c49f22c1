package handler

import (
	"context"
	"log/slog"

	"github.com/r03el/photograbber/internal/gallery"
	"github.com/r03el/photograbber/internal/ingest"
	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/queue/storage"
)

// QueueStore is the queue surface exposed over HTTP
type QueueStore interface {
	Enqueue(ctx context.Context, sub domain.Submission) (bool, error)
	GetItem(ctx context.Context, id int64) (*domain.QueueItem, error)
	ListItems(ctx context.Context, filter storage.ItemFilter) ([]domain.QueueItem, error)
	Report(ctx context.Context) (*domain.StatusReport, error)
	RequeueEligibleFailures(ctx context.Context, maxRetries int) (int64, error)
}

// Submitter hands submissions to the broker for asynchronous ingest
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) error
}

// GalleryView lists uploaded media
type GalleryView interface {
	Items(ctx context.Context) []gallery.Item
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers. Submitter, Groups
// and Gallery are optional.
type Dependencies struct {
	Logger     *slog.Logger
	Queue      QueueStore
	Submitter  Submitter
	Groups     *ingest.GroupFilter
	Gallery    GalleryView
	Database   HealthChecker
	MaxRetries int
}

// QueueHandler handles queue-related HTTP requests
type QueueHandler struct {
	logger     *slog.Logger
	queue      QueueStore
	submitter  Submitter
	groups     *ingest.GroupFilter
	maxRetries int
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:     deps.Logger,
		queue:      deps.Queue,
		submitter:  deps.Submitter,
		groups:     deps.Groups,
		maxRetries: deps.MaxRetries,
	}
}

// GalleryHandler serves the gallery projection
type GalleryHandler struct {
	logger  *slog.Logger
	gallery GalleryView
}

// NewGalleryHandler creates a new GalleryHandler instance
func NewGalleryHandler(deps *Dependencies) *GalleryHandler {
	return &GalleryHandler{
		logger:  deps.Logger,
		gallery: deps.Gallery,
	}
}
