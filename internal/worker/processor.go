package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/r03el/photograbber/internal/queue/domain"
)

var errNoLocation = errors.New("executor returned no storage location")

// processItem uploads one claimed item and records the outcome. It reports
// whether the item reached history.
func (p *Pool) processItem(ctx context.Context, item domain.QueueItem) bool {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	p.logger.Info("Processing item",
		slog.Int64("item_id", item.ID),
		slog.String("file_ref", item.ExternalFileRef),
		slog.String("media_kind", string(item.MediaKind)),
		slog.Int("retry_count", item.RetryCount),
	)

	location, err := p.execute(ctx, item)
	if err == nil && location == "" {
		err = errNoLocation
	}
	if err != nil {
		p.recordFailure(ctx, item, err.Error())
		return false
	}

	if err := p.store.Complete(ctx, item.ID, location); err != nil {
		p.logger.Error("Failed to record completed upload",
			slog.Int64("item_id", item.ID),
			slog.String("location", location),
			slog.String("error", err.Error()),
		)
		// The object is stored, but the item must not stay in processing.
		p.recordFailure(ctx, item, fmt.Sprintf("failed to record completion: %s", err.Error()))
		return false
	}

	recordCompleted(ctx)
	p.logger.Info("Item uploaded successfully",
		slog.Int64("item_id", item.ID),
		slog.String("file_ref", item.ExternalFileRef),
		slog.String("location", location),
	)

	return true
}

// execute runs the executor, converting a panic into an upload failure
func (p *Pool) execute(ctx context.Context, item domain.QueueItem) (location string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	return p.executor.Process(ctx, item.ExternalFileRef, item.Metadata())
}

// recordFailure marks the item failed and logs whether it remains eligible
// for retry
func (p *Pool) recordFailure(ctx context.Context, item domain.QueueItem, message string) {
	recordFailed(ctx)

	if err := p.store.Fail(ctx, item.ID, message); err != nil {
		p.logger.Error("Failed to record upload failure",
			slog.Int64("item_id", item.ID),
			slog.String("upload_error", message),
			slog.String("error", err.Error()),
		)
		return
	}

	attempt := item.RetryCount + 1
	if p.policy.ShouldRetry(attempt) {
		p.logger.Warn("Upload failed, item will be retried",
			slog.Int64("item_id", item.ID),
			slog.String("file_ref", item.ExternalFileRef),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.policy.MaxRetries),
			slog.Duration("retry_after", p.policy.Backoff(item.RetryCount)),
			slog.String("error", message),
		)
		return
	}

	p.logger.Error("Upload failed permanently, retry budget exhausted",
		slog.Int64("item_id", item.ID),
		slog.String("file_ref", item.ExternalFileRef),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", p.policy.MaxRetries),
		slog.String("error", message),
	)
}
