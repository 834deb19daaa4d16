// Package metrics defines the Prometheus metric collectors for the bot core
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MatchesTotal         *prometheus.CounterVec
	MatchLatency         *prometheus.HistogramVec
	WildcardFallbacks    prometheus.Counter
	AuthorizeDenials     prometheus.Counter
	RateLimited          prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CatalogSize          prometheus.Gauge
	WhitelistSize        prometheus.Gauge
	CatalogEventsApplied *prometheus.CounterVec
}

// New creates and registers all collectors with the default registry. Call
// it once per process.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wat_matches_total",
				Help: "Total match requests by mode (single, ranked) and outcome (matched, wildcard, denied, error).",
			},
			[]string{"mode", "outcome"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wat_match_latency_seconds",
				Help:    "Match latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"cache_status"},
		),
		WildcardFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wat_wildcard_fallbacks_total",
				Help: "Matches answered from the full catalog because no tag matched.",
			},
		),
		AuthorizeDenials: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authorize_denials_total",
				Help: "Requests rejected by the whitelist gate.",
			},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limited_total",
				Help: "Requests rejected by the per-user rate limiter.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_hits_total",
				Help: "Total match-candidate cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_misses_total",
				Help: "Total match-candidate cache misses.",
			},
		),
		CatalogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_size",
				Help: "Number of images currently indexed.",
			},
		),
		WhitelistSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whitelist_size",
				Help: "Number of explicit whitelist entries.",
			},
		),
		CatalogEventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_events_applied_total",
				Help: "Catalog change events applied from Kafka by type and status.",
			},
			[]string{"type", "status"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MatchesTotal,
		m.MatchLatency,
		m.WildcardFallbacks,
		m.AuthorizeDenials,
		m.RateLimited,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CatalogSize,
		m.WhitelistSize,
		m.CatalogEventsApplied,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
