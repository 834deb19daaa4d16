// Package publisher emits catalog change events to Kafka with retry, so a
// transient broker hiccup does not drop a change from the feed.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/pkg/kafka"
	"github.com/rmedgar/nekowat/pkg/resilience"
)

// Publisher writes catalog events to the change topic. Events are keyed by
// wat id so all changes to one image land on the same partition, in order.
type Publisher struct {
	producer *kafka.Producer
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

// New creates a Publisher over the given Kafka producer.
func New(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		retry:    resilience.DefaultRetryConfig(),
		logger:   slog.Default().With("component", "catalog-publisher"),
	}
}

// PublishEvent writes one event, retrying with backoff on failure.
func (p *Publisher) PublishEvent(ctx context.Context, event catalog.Event) error {
	err := resilience.Retry(ctx, p.retry, func() error {
		return p.producer.Publish(ctx, kafka.Event{
			Key:   event.WatID,
			Value: event,
		})
	})
	if err != nil {
		return fmt.Errorf("publishing %s for wat %q: %w", event.Type, event.WatID, err)
	}
	p.logger.Debug("catalog event published", "type", event.Type, "wat_id", event.WatID)
	return nil
}

// Close flushes and closes the underlying producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
