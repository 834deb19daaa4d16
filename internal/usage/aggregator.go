package usage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmedgar/nekowat/pkg/kafka"
)

// Stats is the aggregated view of match traffic since process start.
type Stats struct {
	TotalMatches     int64             `json:"total_matches"`
	TotalDenied      int64             `json:"total_denied"`
	WildcardCount    int64             `json:"wildcard_count"`
	WildcardRate     float64           `json:"wildcard_rate"`
	CacheHits        int64             `json:"cache_hits"`
	CacheMisses      int64             `json:"cache_misses"`
	AvgLatencyMs     float64           `json:"avg_latency_ms"`
	P95LatencyMs     int64             `json:"p95_latency_ms"`
	TopExpressions   []ExpressionCount `json:"top_expressions"`
	TopWATs          []ExpressionCount `json:"top_wats"`
	MatchesPerMinute float64           `json:"matches_per_minute"`
}

// ExpressionCount is one entry in a frequency ranking.
type ExpressionCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Aggregator consumes usage events from Kafka and folds them into
// in-memory counters.
type Aggregator struct {
	mu               sync.RWMutex
	totalMatches     atomic.Int64
	totalDenied      atomic.Int64
	wildcards        atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	latencies        []int64
	expressionCounts map[string]int64
	watCounts        map[string]int64
	startTime        time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator over the given consumer. The consumer
// may be nil when events are recorded locally via Record.
func NewAggregator(consumer *kafka.Consumer) *Aggregator {
	return &Aggregator{
		latencies:        make([]int64, 0, 10000),
		expressionCounts: make(map[string]int64),
		watCounts:        make(map[string]int64),
		startTime:        time.Now(),
		consumer:         consumer,
		logger:           slog.Default().With("component", "usage-aggregator"),
	}
}

// Start begins consuming. It blocks until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("usage aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent returns a Kafka MessageHandler feeding the aggregator.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[MatchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode usage event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record folds one event into the counters.
func (a *Aggregator) Record(event MatchEvent) {
	if event.Type == EventDenied {
		a.totalDenied.Add(1)
		return
	}

	a.totalMatches.Add(1)
	if event.Wildcard {
		a.wildcards.Add(1)
	}
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}

	a.mu.Lock()
	a.latencies = append(a.latencies, event.LatencyMs)
	if event.Expression != "" {
		a.expressionCounts[event.Expression]++
	}
	for _, id := range event.Served {
		a.watCounts[id]++
	}
	a.mu.Unlock()
}

// Stats returns a snapshot of the aggregated counters. topN bounds the
// expression and wat rankings; values below 1 default to 10.
func (a *Aggregator) Stats(topN int) Stats {
	if topN < 1 {
		topN = 10
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalMatches:  a.totalMatches.Load(),
		TotalDenied:   a.totalDenied.Load(),
		WildcardCount: a.wildcards.Load(),
		CacheHits:     a.cacheHits.Load(),
		CacheMisses:   a.cacheMisses.Load(),
	}
	if stats.TotalMatches > 0 {
		stats.WildcardRate = float64(stats.WildcardCount) / float64(stats.TotalMatches)
	}

	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P95LatencyMs = percentile(sorted, 95)
	}

	stats.TopExpressions = topCounts(a.expressionCounts, topN)
	stats.TopWATs = topCounts(a.watCounts, topN)

	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.MatchesPerMinute = float64(stats.TotalMatches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topCounts(counts map[string]int64, n int) []ExpressionCount {
	result := make([]ExpressionCount, 0, len(counts))
	for key, count := range counts {
		result = append(result, ExpressionCount{Key: key, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Key < result[j].Key
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
