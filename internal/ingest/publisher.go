package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/r03el/photograbber/internal/queue/domain"
)

const contentTypeJSON = "application/json"

// MessagePublisher sends raw message bodies to the broker
type MessagePublisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Publisher hands submissions to the broker for asynchronous ingest
type Publisher struct {
	logger *slog.Logger
	broker MessagePublisher
}

// NewPublisher creates a new submission publisher
func NewPublisher(broker MessagePublisher, logger *slog.Logger) *Publisher {
	return &Publisher{logger: logger, broker: broker}
}

// Submit validates and publishes a submission
func (p *Publisher) Submit(ctx context.Context, sub domain.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	body, err := EncodeSubmission(sub)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	if err := p.broker.Publish(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish submission: %w", err)
	}

	p.logger.Info("Submission published",
		slog.String("file_ref", sub.ExternalFileRef),
		slog.String("media_kind", string(sub.MediaKind)),
	)
	return nil
}
