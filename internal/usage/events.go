// Package usage tracks match traffic: events are emitted to Kafka off the
// request path and aggregated into the stats served by /v1/stats.
package usage

import "time"

type EventType string

const (
	EventMatch  EventType = "match"
	EventDenied EventType = "denied"
)

// MatchEvent records one match request after it has been answered.
type MatchEvent struct {
	Type       EventType `json:"type"`
	UserID     int64     `json:"user_id"`
	Expression string    `json:"expression"`
	Mode       string    `json:"mode"`
	Wildcard   bool      `json:"wildcard"`
	Served     []string  `json:"served,omitempty"` // wat ids returned
	CacheHit   bool      `json:"cache_hit"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
}
