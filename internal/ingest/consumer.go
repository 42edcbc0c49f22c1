package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Enqueuer accepts submissions into the durable queue
type Enqueuer interface {
	Enqueue(ctx context.Context, sub domain.Submission) (bool, error)
}

// DeliverySource yields broker deliveries
type DeliverySource interface {
	SetPrefetch(count int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

const (
	// DefaultRedeliveryDelay is the pause before the first requeue during a
	// store outage
	DefaultRedeliveryDelay = time.Second
	maxRedeliveryDelay     = 30 * time.Second
)

// ConsumerConfig holds submission consumer configuration
type ConsumerConfig struct {
	Logger          *slog.Logger
	Source          DeliverySource
	Queue           Enqueuer
	Groups          *GroupFilter
	PrefetchCount   int
	RedeliveryDelay time.Duration
}

// Consumer enqueues submissions delivered by the broker. A delivery is acked
// only once the queue has durably accepted or deduplicated it.
type Consumer struct {
	logger        *slog.Logger
	source        DeliverySource
	queue         Enqueuer
	groups        *GroupFilter
	prefetchCount int
	consumerTag   string

	redeliveryDelay time.Duration
	outages         int
}

// NewConsumer creates a new submission consumer
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	delay := cfg.RedeliveryDelay
	if delay <= 0 {
		delay = DefaultRedeliveryDelay
	}

	return &Consumer{
		logger:          cfg.Logger,
		source:          cfg.Source,
		queue:           cfg.Queue,
		groups:          cfg.Groups,
		prefetchCount:   cfg.PrefetchCount,
		consumerTag:     "photograbber-ingest-" + uuid.New().String(),
		redeliveryDelay: delay,
	}
}

// Run consumes deliveries until ctx is canceled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.setupConsumer()
	if err != nil {
		return err
	}

	c.dispatch(ctx, deliveries)
	return nil
}

// setupConsumer sets QoS and starts consuming from the submission queue
func (c *Consumer) setupConsumer() (<-chan amqp.Delivery, error) {
	if c.prefetchCount > 0 {
		if err := c.source.SetPrefetch(c.prefetchCount); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
		c.logger.Info("RabbitMQ QoS configured",
			slog.Int("prefetch_count", c.prefetchCount),
		)
	}

	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Submission consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	return deliveries, nil
}

func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Submission consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery enqueues one delivery and settles it with the broker
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	sub, err := DecodeSubmission(delivery.Body)
	if err != nil {
		c.logger.Error("Rejecting malformed submission",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages never succeed; let the broker dead-letter them.
		c.nack(delivery, false)
		return
	}

	if !c.groups.Admits(sub) {
		c.logger.Debug("Submission from unmonitored group dropped",
			slog.Int64("group_id", sub.OriginGroupID),
			slog.String("file_ref", sub.ExternalFileRef),
		)
		c.ack(delivery, sub)
		return
	}

	inserted, err := c.queue.Enqueue(ctx, sub)
	if err != nil {
		requeue := errors.Is(err, domain.ErrStoreUnavailable)
		c.logger.Error("Failed to enqueue submission",
			slog.String("file_ref", sub.ExternalFileRef),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		if requeue {
			c.pauseBeforeRedelivery(ctx)
		}
		c.nack(delivery, requeue)
		return
	}
	c.outages = 0

	if !inserted {
		c.logger.Info("Duplicate submission ignored",
			slog.String("file_ref", sub.ExternalFileRef),
		)
	}

	c.ack(delivery, sub)
}

// pauseBeforeRedelivery holds a delivery the store could not accept so the
// broker does not redeliver it in a tight loop. The pause doubles with each
// consecutive outage.
func (c *Consumer) pauseBeforeRedelivery(ctx context.Context) time.Duration {
	delay := min(retry.Backoff(c.redeliveryDelay, c.outages), maxRedeliveryDelay)
	c.outages++

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return delay
}

func (c *Consumer) ack(delivery amqp.Delivery, sub domain.Submission) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK submission",
			slog.String("file_ref", sub.ExternalFileRef),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK submission",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
