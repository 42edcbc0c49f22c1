package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RequeueStore returns retry-eligible failures to pending
type RequeueStore interface {
	RequeueEligibleFailures(ctx context.Context, maxRetries int) (int64, error)
}

// RequeuerConfig holds scheduled requeue configuration
type RequeuerConfig struct {
	Logger     *slog.Logger
	Store      RequeueStore
	Interval   time.Duration
	MaxRetries int
}

// Requeuer periodically returns failed items with retry budget left to the
// queue. Without it, failed items wait for an operator requeue.
type Requeuer struct {
	logger     *slog.Logger
	store      RequeueStore
	interval   time.Duration
	maxRetries int
	mu         sync.Mutex
	stopped    bool
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewRequeuer creates a new scheduled requeue loop
func NewRequeuer(cfg *RequeuerConfig) *Requeuer {
	return &Requeuer{
		logger:     cfg.Logger,
		store:      cfg.Store,
		interval:   cfg.Interval,
		maxRetries: cfg.MaxRetries,
		stopChan:   make(chan struct{}),
	}
}

// Run requeues on every interval until ctx is canceled or Stop is called
func (r *Requeuer) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("Scheduled requeue disabled")
		return nil
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.logger.Info("Starting scheduled requeue",
		slog.Duration("interval", r.interval),
		slog.Int("max_retries", r.maxRetries),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopChan:
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			r.RequeueOnce(ctx)
		}
	}
}

// RequeueOnce performs a single requeue pass and returns the moved count
func (r *Requeuer) RequeueOnce(ctx context.Context) int64 {
	moved, err := r.store.RequeueEligibleFailures(ctx, r.maxRetries)
	if err != nil {
		r.logger.Error("Scheduled requeue failed",
			slog.String("error", err.Error()),
		)
		return 0
	}

	recordRequeued(ctx, moved)
	if moved > 0 {
		r.logger.Info("Scheduled requeue returned failed items to pending",
			slog.Int64("count", moved),
		)
	}
	return moved
}

// Stop ends the loop and waits for it to exit
func (r *Requeuer) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.mu.Unlock()
	r.wg.Wait()
}
