package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/r03el/photograbber/internal/queue/domain"
)

// ItemFilter narrows ListItems results
type ItemFilter struct {
	Status    domain.Status
	MediaKind domain.MediaKind
	PageSize  int
	Cursor    *ItemCursor
}

// ItemCursor is the keyset position after which a listing continues
type ItemCursor struct {
	CreatedAtMs int64
	ID          int64
}

// ListItems lists queue items in queue order. It fetches one row beyond
// PageSize so callers can tell whether another page exists.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM upload_queue WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	if filter.MediaKind != "" {
		query += " AND media_kind = ?"
		args = append(args, string(filter.MediaKind))
	}

	if filter.Cursor != nil {
		query += " AND (created_at_ms > ? OR (created_at_ms = ? AND id > ?))"
		args = append(args, filter.Cursor.CreatedAtMs, filter.Cursor.CreatedAtMs, filter.Cursor.ID)
	}

	query += " ORDER BY created_at_ms ASC, id ASC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var items []domain.QueueItem
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, domain.NewStoreError("list items", err)
	}

	return items, nil
}

// HistorySince returns up to limit history records with an id above afterID
func (r *Repository) HistorySince(ctx context.Context, afterID int64, limit int) ([]domain.HistoryRecord, error) {
	query := r.db.Rebind(`SELECT ` + historyColumns + `
		FROM upload_history
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?`)

	var records []domain.HistoryRecord
	if err := r.db.SelectContext(ctx, &records, query, afterID, limit); err != nil {
		return nil, domain.NewStoreError("history since", err)
	}

	return records, nil
}

// CountsByStatus counts queue rows per status
func (r *Repository) CountsByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM upload_queue GROUP BY status`)
	if err != nil {
		return nil, domain.NewStoreError("count by status", err)
	}

	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[domain.Status(row.Status)] = row.Count
	}
	return counts, nil
}

// CompletedCount counts history rows
func (r *Repository) CompletedCount(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM upload_history`); err != nil {
		return 0, domain.NewStoreError("count completed", err)
	}
	return count, nil
}

// LastCompletedAt returns the most recent completion time, or nil when
// nothing has been uploaded yet
func (r *Repository) LastCompletedAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullInt64
	if err := r.db.GetContext(ctx, &last, `SELECT MAX(completed_at_ms) FROM upload_history`); err != nil {
		return nil, domain.NewStoreError("last completed", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := time.UnixMilli(last.Int64)
	return &t, nil
}

// AverageLatency returns the mean time between submission and completion,
// or nil when history is empty
func (r *Repository) AverageLatency(ctx context.Context) (*time.Duration, error) {
	var avg sql.NullFloat64
	err := r.db.GetContext(ctx, &avg,
		`SELECT AVG(completed_at_ms - submitted_at_ms) FROM upload_history`)
	if err != nil {
		return nil, domain.NewStoreError("average latency", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	d := time.Duration(avg.Float64 * float64(time.Millisecond))
	return &d, nil
}

// CountsByMediaKind counts history rows per media kind
func (r *Repository) CountsByMediaKind(ctx context.Context) (map[domain.MediaKind]int64, error) {
	var rows []struct {
		MediaKind string `db:"media_kind"`
		Count     int64  `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT media_kind, COUNT(*) AS count FROM upload_history GROUP BY media_kind`)
	if err != nil {
		return nil, domain.NewStoreError("count by media kind", err)
	}

	counts := make(map[domain.MediaKind]int64, len(rows))
	for _, row := range rows {
		counts[domain.MediaKind(row.MediaKind)] = row.Count
	}
	return counts, nil
}

// Report gathers every aggregate into one status report
func (r *Repository) Report(ctx context.Context) (*domain.StatusReport, error) {
	byStatus, err := r.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	completed, err := r.CompletedCount(ctx)
	if err != nil {
		return nil, err
	}

	last, err := r.LastCompletedAt(ctx)
	if err != nil {
		return nil, err
	}

	avg, err := r.AverageLatency(ctx)
	if err != nil {
		return nil, err
	}

	byKind, err := r.CountsByMediaKind(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.StatusReport{
		Pending:         byStatus[domain.StatusPending],
		Processing:      byStatus[domain.StatusProcessing],
		Failed:          byStatus[domain.StatusFailed],
		Completed:       completed,
		LastCompletedAt: last,
		AverageLatency:  avg,
		ByMediaKind:     byKind,
	}, nil
}
