package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/r03el/photograbber/internal/queue/domain"
	"golang.org/x/sync/errgroup"
)

// TickResult summarises one poll cycle
type TickResult struct {
	Fetched   int
	Claimed   int
	ClaimLost int
	Completed int
	Failed    int
	Err       error
}

// Tick runs one poll cycle: fetch a batch, claim it item by item in queue
// order, upload the claimed items concurrently and wait for all of them.
func (p *Pool) Tick(ctx context.Context) TickResult {
	var result TickResult

	batch, err := p.store.ClaimBatch(ctx, p.concurrency)
	if err != nil {
		p.logger.Error("Failed to fetch pending items, skipping tick",
			slog.String("worker_id", p.workerID),
			slog.String("error", err.Error()),
		)
		result.Err = err
		return result
	}
	result.Fetched = len(batch)
	if len(batch) == 0 {
		return result
	}

	claimed := make([]domain.QueueItem, 0, len(batch))
	for _, item := range batch {
		ok, err := p.store.TryClaim(ctx, item.ID)
		if err != nil {
			p.logger.Error("Failed to claim item, dispatching already claimed items only",
				slog.Int64("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			result.Err = err
			break
		}
		if !ok {
			p.logger.Debug("Item claimed elsewhere, skipping",
				slog.Int64("item_id", item.ID),
				slog.String("file_ref", item.ExternalFileRef),
			)
			recordClaimLost(ctx)
			result.ClaimLost++
			continue
		}

		item.Status = domain.StatusProcessing
		claimed = append(claimed, item)
	}
	result.Claimed = len(claimed)
	recordClaimed(ctx, len(claimed))

	if len(claimed) == 0 {
		return result
	}

	p.logger.Info("Dispatching claimed items",
		slog.String("worker_id", p.workerID),
		slog.Int("count", len(claimed)),
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for _, item := range claimed {
		g.Go(func() error {
			completed := p.processItem(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			if completed {
				result.Completed++
			} else {
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return result
}
