// Package matchcache caches scored match candidates in Redis. Only the
// deterministic part of a match (the scored, sorted candidate list) is
// cached; the random pick among tied candidates happens per request, so a
// cached expression still rotates through its tied images.
package matchcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/rmedgar/nekowat/internal/wat/matcher"
	"github.com/rmedgar/nekowat/internal/wat/tokenizer"
	"github.com/rmedgar/nekowat/pkg/config"
	"github.com/rmedgar/nekowat/pkg/metrics"
	pkgredis "github.com/rmedgar/nekowat/pkg/redis"
	"github.com/rmedgar/nekowat/pkg/resilience"
)

const keyPrefix = "match:"

// entry is the cached value for one normalized expression.
type entry struct {
	Candidates []matcher.Candidate `json:"candidates"`
	Wildcard   bool                `json:"wildcard"`
}

// Cache is a Redis-backed candidate cache. Concurrent misses for the same
// expression are collapsed with singleflight, and Redis failures trip a
// circuit breaker so a dead Redis degrades to direct matching instead of
// adding a timeout to every request.
type Cache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a candidate cache over the given Redis client. metrics may be
// nil.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *Cache {
	return &Cache{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("match-cache", resilience.CircuitBreakerConfig{}),
		metrics: m,
		logger:  slog.Default().With("component", "match-cache"),
	}
}

// GetOrCompute returns the cached candidates for an expression, computing
// and storing them on a miss. The boolean cacheHit reports whether the value
// came from Redis.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	expression string,
	compute func() ([]matcher.Candidate, bool, error),
) ([]matcher.Candidate, bool, bool, error) {
	key := buildKey(expression)

	if e, ok := c.get(ctx, key); ok {
		c.countHit()
		return e.Candidates, e.Wildcard, true, nil
	}
	c.countMiss()

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if e, ok := c.get(ctx, key); ok {
			return e, nil
		}
		candidates, wildcard, err := compute()
		if err != nil {
			return nil, err
		}
		e := &entry{Candidates: candidates, Wildcard: wildcard}
		c.set(ctx, key, e)
		return e, nil
	})
	if err != nil {
		return nil, false, false, err
	}
	e := val.(*entry)
	return e.Candidates, e.Wildcard, false, nil
}

// Invalidate drops every cached candidate list. Called after any catalog
// change; candidate lists are cheap to recompute and correctness beats
// selective invalidation here.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating match cache: %w", err)
	}
	c.logger.Info("match cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *Cache) get(ctx context.Context, key string) (*entry, bool) {
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil // a miss is not a Redis failure
		}
		return err
	})
	if err != nil || data == "" {
		if err != nil && err != resilience.ErrCircuitOpen {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &e, true
}

func (c *Cache) set(ctx context.Context, key string, e *entry) {
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.cfg.CacheTTL)
	})
	if err != nil && err != resilience.ErrCircuitOpen {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey hashes the sorted normalized tokens of an expression, so
// expressions that tokenize identically share one cache entry regardless of
// word order, case, or punctuation.
func buildKey(expression string) string {
	tokens := tokenizer.Normalize(expression)
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	hash := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
