package worker

import (
	"context"
	"log"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/r03el/photograbber/internal/worker"

var (
	itemsClaimed   metric.Int64Counter
	itemsClaimLost metric.Int64Counter
	itemsCompleted metric.Int64Counter
	itemsFailed    metric.Int64Counter
	itemsRequeued  metric.Int64Counter
)

func init() {
	meter := otel.Meter(meterName)

	var err error

	itemsClaimed, err = meter.Int64Counter(
		"photograbber.worker.items_claimed",
		metric.WithDescription("Number of queue items claimed for upload"),
	)
	if err != nil {
		log.Fatalf("failed to create worker.items_claimed counter: %v", err)
	}

	itemsClaimLost, err = meter.Int64Counter(
		"photograbber.worker.claims_lost",
		metric.WithDescription("Number of claim attempts lost to another claimer"),
	)
	if err != nil {
		log.Fatalf("failed to create worker.claims_lost counter: %v", err)
	}

	itemsCompleted, err = meter.Int64Counter(
		"photograbber.worker.items_completed",
		metric.WithDescription("Number of uploads recorded in history"),
	)
	if err != nil {
		log.Fatalf("failed to create worker.items_completed counter: %v", err)
	}

	itemsFailed, err = meter.Int64Counter(
		"photograbber.worker.items_failed",
		metric.WithDescription("Number of upload attempts that failed"),
	)
	if err != nil {
		log.Fatalf("failed to create worker.items_failed counter: %v", err)
	}

	itemsRequeued, err = meter.Int64Counter(
		"photograbber.worker.items_requeued",
		metric.WithDescription("Number of failed items returned to pending by the scheduled requeue"),
	)
	if err != nil {
		log.Fatalf("failed to create worker.items_requeued counter: %v", err)
	}
}

func registerInFlightGauge(p *Pool) {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge(
		"photograbber.worker.in_flight",
		metric.WithDescription("Number of uploads currently executing"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.InFlight())
			return nil
		}),
	)
	if err != nil {
		p.logger.Warn("Failed to register in-flight gauge", slog.Any("error", err))
	}
}

func recordClaimed(ctx context.Context, n int) {
	if n > 0 {
		itemsClaimed.Add(ctx, int64(n))
	}
}

func recordClaimLost(ctx context.Context) {
	itemsClaimLost.Add(ctx, 1)
}

func recordCompleted(ctx context.Context) {
	itemsCompleted.Add(ctx, 1)
}

func recordFailed(ctx context.Context) {
	itemsFailed.Add(ctx, 1)
}

func recordRequeued(ctx context.Context, n int64) {
	if n > 0 {
		itemsRequeued.Add(ctx, n)
	}
}
