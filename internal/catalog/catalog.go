// Package catalog owns the persistent image catalog: PostgreSQL storage,
// the in-memory tag index built from it, and the Kafka change feed that
// keeps replica processes in sync.
package catalog

import (
	"context"
	"time"

	"github.com/rmedgar/nekowat/internal/wat"
)

// Event types carried on the catalog change topic.
const (
	EventWatAdded   = "wat_added"
	EventWatRemoved = "wat_removed"
	EventTagsSet    = "wat_tags_set"
)

// Event is one catalog mutation, published to Kafka after the change has
// been committed locally. Replicas apply events to their own index; a
// replica that already holds the change (because it originated it) detects
// that on apply and skips it.
type Event struct {
	Type       string    `json:"type"`
	WatID      string    `json:"wat_id"`
	WAT        *wat.WAT  `json:"wat,omitempty"`  // set for wat_added
	Tags       []string  `json:"tags,omitempty"` // set for wat_tags_set
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher emits catalog events to the change feed. The catalog
// service treats publish failures as non-fatal: the local state is already
// committed and replicas reconcile from PostgreSQL at startup.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) error
}
