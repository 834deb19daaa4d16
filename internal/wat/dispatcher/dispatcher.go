// Package dispatcher composes the access gate and the expression matcher
// into the single entry point the transport layer calls. It owns no logic of
// its own beyond ordering: authorize, rate-limit, then match; admin calls
// pass straight through to the gate.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rmedgar/nekowat/internal/wat/gate"
	"github.com/rmedgar/nekowat/internal/wat/matcher"
	"github.com/rmedgar/nekowat/internal/wat/ratelimit"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
	"github.com/rmedgar/nekowat/pkg/metrics"
)

// CandidateCache is implemented by the Redis match cache. compute is invoked
// on a miss; implementations collapse concurrent misses for the same
// expression.
type CandidateCache interface {
	GetOrCompute(ctx context.Context, expression string, compute func() ([]matcher.Candidate, bool, error)) (candidates []matcher.Candidate, wildcard bool, cacheHit bool, err error)
}

// Dispatcher routes inbound requests through the gate into the matcher.
// Cache, limiter, and metrics are optional.
type Dispatcher struct {
	gate    *gate.Gate
	matcher *matcher.Matcher
	cache   CandidateCache
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(g *gate.Gate, m *matcher.Matcher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gate:    g,
		matcher: m,
		logger:  slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type Option func(*Dispatcher)

func WithCache(c CandidateCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Match authorizes userID and resolves expression to a match result.
// Candidate scoring may be served from the cache; the random tie-break
// always happens here, per call, so cached expressions keep varied replies.
func (d *Dispatcher) Match(ctx context.Context, userID int64, expression string, mode matcher.Mode) (*matcher.Result, error) {
	start := time.Now()

	if !d.gate.Authorize(userID) {
		if d.metrics != nil {
			d.metrics.AuthorizeDenials.Inc()
			d.metrics.MatchesTotal.WithLabelValues(mode.String(), "denied").Inc()
		}
		return nil, fmt.Errorf("%w: user %d", apperrors.ErrPermissionDenied, userID)
	}
	if d.limiter != nil && !d.limiter.Allow(userID) {
		if d.metrics != nil {
			d.metrics.RateLimited.Inc()
		}
		return nil, fmt.Errorf("%w: user %d", apperrors.ErrRateLimited, userID)
	}

	var (
		candidates []matcher.Candidate
		wildcard   bool
		cacheHit   bool
		err        error
	)
	if d.cache != nil {
		candidates, wildcard, cacheHit, err = d.cache.GetOrCompute(ctx, expression, func() ([]matcher.Candidate, bool, error) {
			return d.matcher.Candidates(expression)
		})
	} else {
		candidates, wildcard, err = d.matcher.Candidates(expression)
	}
	if err != nil {
		if d.metrics != nil {
			d.metrics.MatchesTotal.WithLabelValues(mode.String(), "error").Inc()
		}
		return nil, err
	}

	result, err := d.matcher.Pick(candidates, mode)
	if err != nil {
		if d.metrics != nil {
			d.metrics.MatchesTotal.WithLabelValues(mode.String(), "error").Inc()
		}
		return nil, err
	}
	result.Wildcard = result.Wildcard || wildcard
	result.CacheHit = cacheHit

	if d.metrics != nil {
		outcome := "matched"
		if result.Wildcard {
			outcome = "wildcard"
			d.metrics.WildcardFallbacks.Inc()
		}
		d.metrics.MatchesTotal.WithLabelValues(mode.String(), outcome).Inc()
		cacheStatus := "miss"
		if cacheHit {
			cacheStatus = "hit"
		} else if d.cache == nil {
			cacheStatus = "none"
		}
		d.metrics.MatchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	}
	d.logger.Debug("match served",
		"user_id", userID,
		"mode", mode.String(),
		"wildcard", result.Wildcard,
		"results", len(result.WATs),
		"cache_hit", cacheHit,
	)
	return result, nil
}

// Authorize exposes the gate check for transports that need it standalone
// (inline queries authorize before the platform shows any UI).
func (d *Dispatcher) Authorize(userID int64) bool {
	return d.gate.Authorize(userID)
}

// IsOwner reports whether userID is the configured owner, for transports
// gating admin commands before touching the catalog.
func (d *Dispatcher) IsOwner(userID int64) bool {
	return d.gate.IsOwner(userID)
}

// WhitelistEnabled reports whether the gate enforces the whitelist.
func (d *Dispatcher) WhitelistEnabled() bool {
	return d.gate.Enabled()
}

// AddUser whitelists a user on behalf of requesterID.
func (d *Dispatcher) AddUser(ctx context.Context, requesterID, targetID int64, name string) (gate.Entry, error) {
	entry, err := d.gate.AddUser(ctx, requesterID, targetID, name)
	if err != nil {
		return gate.Entry{}, err
	}
	if d.metrics != nil {
		d.metrics.WhitelistSize.Set(float64(d.gate.Size()))
	}
	d.logger.Info("user whitelisted", "user_id", targetID, "name", name)
	return entry, nil
}

// RemoveUser removes a whitelist entry on behalf of requesterID.
func (d *Dispatcher) RemoveUser(ctx context.Context, requesterID, targetID int64) error {
	if err := d.gate.RemoveUser(ctx, requesterID, targetID); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.WhitelistSize.Set(float64(d.gate.Size()))
	}
	d.logger.Info("user removed from whitelist", "user_id", targetID)
	return nil
}

// ListUsers returns the whitelist for the owner.
func (d *Dispatcher) ListUsers(requesterID int64) ([]gate.Entry, error) {
	return d.gate.ListUsers(requesterID)
}
