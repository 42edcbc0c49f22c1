package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/r03el/photograbber/internal/queue/domain"
)

const queueColumns = `id, external_file_ref, origin_group_id, origin_user_id, submitted_at_ms,
	media_kind, status, retry_count, last_error, original_file_name, created_at_ms, updated_at_ms`

const historyColumns = `id, external_file_ref, origin_group_id, origin_user_id, submitted_at_ms,
	media_kind, original_file_name, storage_location, completed_at_ms`

// Repository handles all durable queue and history operations.
// Every method runs as its own transaction.
type Repository struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository creates a new Repository instance
func NewRepository(db *sqlx.DB, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Repository) nowMs() int64 {
	return r.now().UnixMilli()
}

// Enqueue inserts a pending item for the submission. It returns false when
// the file reference is already queued or has already been uploaded.
func (r *Repository) Enqueue(ctx context.Context, sub domain.Submission) (bool, error) {
	if err := sub.Validate(); err != nil {
		return false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, domain.NewStoreError("begin enqueue", err)
	}
	defer tx.Rollback()

	var uploaded int
	err = tx.GetContext(ctx, &uploaded,
		tx.Rebind(`SELECT COUNT(*) FROM upload_history WHERE external_file_ref = ?`),
		sub.ExternalFileRef,
	)
	if err != nil {
		return false, domain.NewStoreError("check history", err)
	}
	if uploaded > 0 {
		r.logger.Debug("Submission already uploaded, skipping",
			slog.String("file_ref", sub.ExternalFileRef),
		)
		return false, nil
	}

	fileName := sql.NullString{String: sub.OriginalFileName, Valid: sub.OriginalFileName != ""}

	now := r.nowMs()
	query := tx.Rebind(`
		INSERT INTO upload_queue (
			external_file_ref, origin_group_id, origin_user_id, submitted_at_ms,
			media_kind, status, retry_count, original_file_name, created_at_ms, updated_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (external_file_ref) DO NOTHING
		RETURNING id
	`)

	var id int64
	err = tx.QueryRowxContext(ctx, query,
		sub.ExternalFileRef,
		sub.OriginGroupID,
		sub.OriginUserID,
		sub.SubmittedAtMs,
		string(sub.MediaKind),
		string(domain.StatusPending),
		fileName,
		now,
		now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debug("Submission already queued, skipping",
			slog.String("file_ref", sub.ExternalFileRef),
		)
		return false, nil
	}
	if err != nil {
		return false, domain.NewStoreError("insert item", err)
	}

	if err := tx.Commit(); err != nil {
		return false, domain.NewStoreError("commit enqueue", err)
	}

	r.logger.Info("Submission enqueued",
		slog.Int64("item_id", id),
		slog.String("file_ref", sub.ExternalFileRef),
		slog.String("media_kind", string(sub.MediaKind)),
	)

	return true, nil
}

// ClaimBatch returns up to limit pending items, oldest first. The items are
// not claimed; callers must win TryClaim for each one.
func (r *Repository) ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := r.db.Rebind(`SELECT ` + queueColumns + `
		FROM upload_queue
		WHERE status = ?
		ORDER BY created_at_ms ASC, id ASC
		LIMIT ?`)

	var items []domain.QueueItem
	if err := r.db.SelectContext(ctx, &items, query, string(domain.StatusPending), limit); err != nil {
		return nil, domain.NewStoreError("claim batch", err)
	}

	return items, nil
}

// TryClaim moves a pending item to processing. It returns false when another
// claimer won the race or the item is no longer pending.
func (r *Repository) TryClaim(ctx context.Context, id int64) (bool, error) {
	query := r.db.Rebind(`
		UPDATE upload_queue
		SET status = ?, updated_at_ms = ?
		WHERE id = ? AND status = ?
	`)

	result, err := r.db.ExecContext(ctx, query, string(domain.StatusProcessing), r.nowMs(), id, string(domain.StatusPending))
	if err != nil {
		return false, domain.NewStoreError("claim item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, domain.NewStoreError("claim item rows affected", err)
	}

	return rowsAffected == 1, nil
}

// Complete records a successful upload: the history row is written and the
// queue row removed in one transaction, or neither happens.
func (r *Repository) Complete(ctx context.Context, id int64, location string) error {
	if location == "" {
		return domain.ErrEmptyLocation
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.NewStoreError("begin complete", err)
	}
	defer tx.Rollback()

	var item domain.QueueItem
	err = tx.GetContext(ctx, &item,
		tx.Rebind(`SELECT `+queueColumns+` FROM upload_queue WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("complete item %d: %w", id, domain.ErrItemNotFound)
	}
	if err != nil {
		return domain.NewStoreError("load item", err)
	}
	if item.Status != domain.StatusProcessing {
		return fmt.Errorf("complete item %d in status %s: %w", id, item.Status, domain.ErrInvalidTransition)
	}

	completedAt := r.nowMs()
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO upload_history (
			external_file_ref, origin_group_id, origin_user_id, submitted_at_ms,
			media_kind, original_file_name, storage_location, completed_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		item.ExternalFileRef,
		item.OriginGroupID,
		item.OriginUserID,
		item.SubmittedAtMs,
		string(item.MediaKind),
		nullString(item.OriginalFileName),
		location,
		completedAt,
	)
	if err != nil {
		return domain.NewStoreError("insert history", err)
	}

	result, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM upload_queue WHERE id = ? AND status = ?`),
		id, string(domain.StatusProcessing),
	)
	if err != nil {
		return domain.NewStoreError("delete item", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError("delete item rows affected", err)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("complete item %d: %w", id, domain.ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStoreError("commit complete", err)
	}

	r.logger.Info("Upload recorded in history",
		slog.Int64("item_id", id),
		slog.String("file_ref", item.ExternalFileRef),
		slog.String("location", location),
	)

	return nil
}

// Fail marks a processing item as failed, records the error and increments
// its retry count.
func (r *Repository) Fail(ctx context.Context, id int64, message string) error {
	query := r.db.Rebind(`
		UPDATE upload_queue
		SET status = ?,
		    last_error = ?,
		    retry_count = retry_count + 1,
		    updated_at_ms = ?
		WHERE id = ? AND status = ?
	`)

	result, err := r.db.ExecContext(ctx, query, string(domain.StatusFailed), message, r.nowMs(), id, string(domain.StatusProcessing))
	if err != nil {
		return domain.NewStoreError("fail item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError("fail item rows affected", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	if _, err := r.GetItem(ctx, id); err != nil {
		return fmt.Errorf("fail item %d: %w", id, err)
	}
	return fmt.Errorf("fail item %d: %w", id, domain.ErrInvalidTransition)
}

// RequeueEligibleFailures returns failed items with retry budget left to
// pending and reports how many were moved.
func (r *Repository) RequeueEligibleFailures(ctx context.Context, maxRetries int) (int64, error) {
	query := r.db.Rebind(`
		UPDATE upload_queue
		SET status = ?, last_error = NULL, updated_at_ms = ?
		WHERE status = ? AND retry_count < ?
	`)

	result, err := r.db.ExecContext(ctx, query, string(domain.StatusPending), r.nowMs(), string(domain.StatusFailed), maxRetries)
	if err != nil {
		return 0, domain.NewStoreError("requeue failures", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, domain.NewStoreError("requeue failures rows affected", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Failed items requeued",
			slog.Int64("count", rowsAffected),
			slog.Int("max_retries", maxRetries),
		)
	}

	return rowsAffected, nil
}

// RecoverInterrupted returns items left in processing by a previous process
// to pending. Only call it while holding the writer lock.
func (r *Repository) RecoverInterrupted(ctx context.Context) (int64, error) {
	query := r.db.Rebind(`
		UPDATE upload_queue
		SET status = ?, updated_at_ms = ?
		WHERE status = ?
	`)

	result, err := r.db.ExecContext(ctx, query, string(domain.StatusPending), r.nowMs(), string(domain.StatusProcessing))
	if err != nil {
		return 0, domain.NewStoreError("recover interrupted", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, domain.NewStoreError("recover interrupted rows affected", err)
	}

	if rowsAffected > 0 {
		r.logger.Warn("Recovered items interrupted mid-upload",
			slog.Int64("count", rowsAffected),
		)
	}

	return rowsAffected, nil
}

// GetItem retrieves a queue item by its ID
func (r *Repository) GetItem(ctx context.Context, id int64) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := r.db.GetContext(ctx, &item,
		r.db.Rebind(`SELECT `+queueColumns+` FROM upload_queue WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, domain.NewStoreError("get item", err)
	}

	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
