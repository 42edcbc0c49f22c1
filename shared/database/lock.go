package database

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
)

// ErrWriterLockHeld is returned when another process already owns the queue
var ErrWriterLockHeld = errors.New("another worker instance already holds the queue writer lock")

// WriterLock guarantees a single worker process per queue store
type WriterLock struct {
	file   *flock.Flock
	conn   *sqlx.Conn
	key    int64
	logger *slog.Logger
}

// AcquireWriterLock takes the single-writer lock for the configured store.
// SQLite stores use an advisory lock file next to the database; PostgreSQL
// stores use a session advisory lock held on a dedicated connection.
func (c *Client) AcquireWriterLock(ctx context.Context, name string) (*WriterLock, error) {
	lock := &WriterLock{logger: c.logger}

	switch c.config.DriverName() {
	case DriverSQLite:
		path := c.config.Path + ".lock"
		lock.file = flock.New(path)
		ok, err := lock.file.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock file %s: %w", path, err)
		}
		if !ok {
			return nil, ErrWriterLockHeld
		}
		c.logger.Info("Writer lock acquired", slog.String("lock_file", path))

	case DriverPostgres:
		conn, err := c.db.Connx(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
		}
		key := advisoryKey(name)
		var ok bool
		if err := conn.GetContext(ctx, &ok, "SELECT pg_try_advisory_lock($1)", key); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if !ok {
			conn.Close()
			return nil, ErrWriterLockHeld
		}
		lock.conn = conn
		lock.key = key
		c.logger.Info("Writer lock acquired", slog.Int64("advisory_key", key))

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DriverName())
	}

	return lock, nil
}

// Release gives the lock back
func (l *WriterLock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}

	if l.file != nil {
		if err := l.file.Unlock(); err != nil {
			return fmt.Errorf("failed to release lock file: %w", err)
		}
	}

	if l.conn != nil {
		if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
			l.logger.Warn("Failed to release advisory lock", slog.Any("error", err))
		}
		if err := l.conn.Close(); err != nil {
			return fmt.Errorf("failed to close lock connection: %w", err)
		}
	}

	l.logger.Info("Writer lock released")
	return nil
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
