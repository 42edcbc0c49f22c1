package gallery

import (
	"context"
	"log/slog"
	"time"
)

// Follow calls Sync every interval until ctx is canceled. Sync errors are
// logged and retried on the next tick.
func (p *Projection) Follow(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.Sync(ctx)
			if err != nil {
				p.logger.Warn("Gallery sync failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				p.logger.Debug("Gallery synced from history",
					slog.Int("applied", n),
				)
			}
		}
	}
}
