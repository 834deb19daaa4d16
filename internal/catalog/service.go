package catalog

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/index"
	"github.com/rmedgar/nekowat/internal/wat/tokenizer"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
	"github.com/rmedgar/nekowat/pkg/metrics"
)

// Invalidator drops cached match candidates after a catalog change.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service coordinates catalog mutations across PostgreSQL, the in-memory
// index, the Kafka change feed, and the candidate cache. The database commit
// is the point of truth; everything after it is applied best-effort and
// reconciled at startup via Load.
type Service struct {
	store     *Store
	index     *index.TagIndex
	publisher EventPublisher
	cache     Invalidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithStore attaches PostgreSQL persistence. Without it the catalog is
// memory-only.
func WithStore(store *Store) Option {
	return func(s *Service) { s.store = store }
}

// WithPublisher attaches the Kafka change feed.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithInvalidator attaches the candidate cache for invalidation on change.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.cache = inv }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a catalog service over the given index.
func NewService(idx *index.TagIndex, opts ...Option) *Service {
	s := &Service{
		index:  idx,
		logger: slog.Default().With("component", "catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load rebuilds the in-memory index from PostgreSQL. Records already present
// in the index are skipped. No-op without a store.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	for _, record := range records {
		if err := s.index.AddImage(record); err != nil {
			if errors.Is(err, apperrors.ErrDuplicateImage) {
				continue
			}
			return fmt.Errorf("indexing wat %q: %w", record.ID, err)
		}
	}
	s.setCatalogGauge()
	return nil
}

// Add persists a new image and indexes it. When the record carries no id,
// one is derived from its first file id so that re-adding the same platform
// file is rejected as a duplicate rather than stored twice.
func (s *Service) Add(ctx context.Context, record *wat.WAT) (*wat.WAT, error) {
	if record.Name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "name is required")
	}
	if len(record.FileIDs) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "at least one file id is required")
	}

	stored := *record
	stored.Tags = tokenizer.NormalizeAll(record.Tags)
	if stored.ID == "" {
		stored.ID = deriveID(stored.FileIDs[0])
	}
	if stored.AddedAt.IsZero() {
		stored.AddedAt = time.Now().UTC()
	}

	if s.store != nil {
		if err := s.store.Insert(ctx, &stored); err != nil {
			return nil, err
		}
	}
	if err := s.index.AddImage(&stored); err != nil {
		return nil, err
	}

	s.afterChange(ctx, Event{
		Type:       EventWatAdded,
		WatID:      stored.ID,
		WAT:        &stored,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("wat added", "id", stored.ID, "name", stored.Name, "tags", len(stored.Tags))
	return &stored, nil
}

// Remove deletes an image from storage and the index.
func (s *Service) Remove(ctx context.Context, id string) error {
	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
	}
	if err := s.index.RemoveImage(id); err != nil {
		return err
	}

	s.afterChange(ctx, Event{
		Type:       EventWatRemoved,
		WatID:      id,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("wat removed", "id", id)
	return nil
}

// SetTags replaces an image's tag set.
func (s *Service) SetTags(ctx context.Context, id string, tags []string) error {
	normalized := tokenizer.NormalizeAll(tags)
	if s.store != nil {
		if err := s.store.SetTags(ctx, id, normalized); err != nil {
			return err
		}
	}
	if err := s.index.ReplaceTags(id, normalized); err != nil {
		return err
	}

	s.afterChange(ctx, Event{
		Type:       EventTagsSet,
		WatID:      id,
		Tags:       normalized,
		OccurredAt: time.Now().UTC(),
	})
	s.logger.Info("wat tags set", "id", id, "tags", len(normalized))
	return nil
}

// Get returns the indexed record for an id.
func (s *Service) Get(id string) (*wat.WAT, bool) {
	return s.index.Get(id)
}

// List returns every indexed record, ordered by name.
func (s *Service) List() []*wat.WAT {
	return s.index.Snapshot().Records()
}

// Size reports the number of indexed records.
func (s *Service) Size() int {
	return s.index.Len()
}

// afterChange runs the best-effort post-commit steps: publishing the change
// event and dropping cached candidates. Failures are logged, not returned;
// the local change has already been committed.
func (s *Service) afterChange(ctx context.Context, event Event) {
	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, event); err != nil {
			s.logger.Error("failed to publish catalog event",
				"type", event.Type,
				"wat_id", event.WatID,
				"error", err,
			)
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Error("failed to invalidate candidate cache", "error", err)
		}
	}
	s.setCatalogGauge()
}

func (s *Service) setCatalogGauge() {
	if s.metrics != nil {
		s.metrics.CatalogSize.Set(float64(s.index.Len()))
	}
}

// deriveID produces a stable catalog id from a platform file id.
func deriveID(fileID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(fileID)))
	return fmt.Sprintf("%x", sum[:8])
}
