// Package consumer reads catalog change events from Kafka and applies them
// to the local tag index, keeping replica processes in sync with whichever
// instance committed the change.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/internal/wat/index"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
	"github.com/rmedgar/nekowat/pkg/kafka"
	"github.com/rmedgar/nekowat/pkg/metrics"
)

// CatalogConsumer wraps a Kafka consumer to drive catalog replication.
type CatalogConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a CatalogConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *CatalogConsumer {
	return &CatalogConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "catalog-consumer"),
	}
}

// Start begins consuming. It blocks until ctx is cancelled.
func (cc *CatalogConsumer) Start(ctx context.Context) error {
	cc.logger.Info("catalog consumer starting")
	return cc.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies catalog events
// to the index. Events the local index already reflects (the instance that
// originated the change consumes its own event) surface as duplicate or
// not-found errors on apply and are skipped. If inv is non-nil, cached match
// candidates are dropped after each applied event.
func HandleMessage(idx *index.TagIndex, inv catalog.Invalidator, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "catalog-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[catalog.Event](value)
		if err != nil {
			logger.Error("failed to decode catalog event",
				"error", err,
				"key", string(key),
			)
			countEvent(m, "unknown", "decode_error")
			return nil
		}

		applied, err := apply(idx, event)
		if err != nil {
			countEvent(m, event.Type, "error")
			logger.Error("failed to apply catalog event",
				"type", event.Type,
				"wat_id", event.WatID,
				"error", err,
			)
			return nil // bad event; do not block the partition
		}
		if !applied {
			countEvent(m, event.Type, "skipped")
			logger.Debug("catalog event already applied",
				"type", event.Type,
				"wat_id", event.WatID,
			)
			return nil
		}

		countEvent(m, event.Type, "applied")
		if m != nil {
			m.CatalogSize.Set(float64(idx.Len()))
		}
		if inv != nil {
			if err := inv.Invalidate(ctx); err != nil {
				logger.Error("failed to invalidate candidate cache", "error", err)
			}
		}
		logger.Info("catalog event applied", "type", event.Type, "wat_id", event.WatID)
		return nil
	}
}

// apply mutates the index for one event. It returns false when the index
// already reflects the change.
func apply(idx *index.TagIndex, event catalog.Event) (bool, error) {
	switch event.Type {
	case catalog.EventWatAdded:
		if event.WAT == nil {
			return false, errors.New("wat_added event without record")
		}
		err := idx.AddImage(event.WAT)
		if errors.Is(err, apperrors.ErrDuplicateImage) {
			return false, nil
		}
		return err == nil, err

	case catalog.EventWatRemoved:
		err := idx.RemoveImage(event.WatID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return err == nil, err

	case catalog.EventTagsSet:
		err := idx.ReplaceTags(event.WatID, event.Tags)
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return err == nil, err

	default:
		return false, errors.New("unknown event type " + event.Type)
	}
}

func countEvent(m *metrics.Metrics, eventType, status string) {
	if m != nil {
		m.CatalogEventsApplied.WithLabelValues(eventType, status).Inc()
	}
}
