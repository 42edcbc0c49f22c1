package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/retry"
)

// Store is the slice of the queue repository the pool drives
type Store interface {
	ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error)
	TryClaim(ctx context.Context, id int64) (bool, error)
	Complete(ctx context.Context, id int64, location string) error
	Fail(ctx context.Context, id int64, message string) error
}

// Executor uploads one item and returns its storage location
type Executor interface {
	Process(ctx context.Context, fileRef string, meta domain.MediaMetadata) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, fileRef string, meta domain.MediaMetadata) (string, error)

// Process calls f
func (f ExecutorFunc) Process(ctx context.Context, fileRef string, meta domain.MediaMetadata) (string, error) {
	return f(ctx, fileRef, meta)
}

// Config holds worker pool configuration
type Config struct {
	Logger       *slog.Logger
	Store        Store
	Executor     Executor
	Enabled      bool
	Concurrency  int
	PollInterval time.Duration
	Policy       retry.Policy
}

// Pool polls the durable queue and uploads claimed items with bounded
// concurrency. A single loop drives every tick.
type Pool struct {
	logger       *slog.Logger
	store        Store
	executor     Executor
	enabled      bool
	concurrency  int
	pollInterval time.Duration
	policy       retry.Policy
	workerID     string
	inFlight     atomic.Int64
	mu           sync.Mutex
	stopped      bool
	wg           sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewPool creates a new worker pool instance
func NewPool(cfg *Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	p := &Pool{
		logger:       cfg.Logger,
		store:        cfg.Store,
		executor:     cfg.Executor,
		enabled:      cfg.Enabled,
		concurrency:  concurrency,
		pollInterval: cfg.PollInterval,
		policy:       cfg.Policy,
		workerID:     uuid.New().String(),
		stopChan:     make(chan struct{}),
	}
	registerInFlightGauge(p)
	return p
}

// WorkerID identifies this pool instance in logs
func (p *Pool) WorkerID() string {
	return p.workerID
}

// InFlight returns the number of uploads currently executing
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Run polls until ctx is canceled or Stop is called. A tick in progress is
// finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	if !p.enabled {
		p.logger.Info("Worker pool disabled, not polling")
		return nil
	}

	// Registration happens under mu so Stop never misses a running loop.
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	p.logger.Info("Starting worker pool",
		slog.String("worker_id", p.workerID),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
		slog.Int("max_retries", p.policy.MaxRetries),
		slog.Duration("retry_base_delay", p.policy.BaseDelay),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Worker pool stopping - context canceled")
			return nil
		case <-p.stopChan:
			p.logger.Info("Worker pool stopping - stop requested")
			return nil
		case <-timer.C:
		}

		// A due timer may win the select over a shutdown signal.
		if ctx.Err() != nil || p.stopRequested() {
			p.logger.Info("Worker pool stopping before next tick")
			return nil
		}

		// Uploads of a started tick are not interrupted by shutdown.
		p.Tick(context.WithoutCancel(ctx))

		timer.Reset(p.pollInterval)
	}
}

// Stop asks the poll loop to exit and waits for the current tick to finish
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool...")
	p.mu.Lock()
	p.stopped = true
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) stopRequested() bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}
