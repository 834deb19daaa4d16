package usage

import (
	"context"
	"testing"
)

func TestTrackAfterCloseIsDropped(t *testing.T) {
	c := NewCollector(nil, 4)
	c.Start(context.Background())
	c.Close()

	// Late HTTP handlers can still report while the server drains; this
	// must not panic on the closed channel.
	c.Track(MatchEvent{Type: EventMatch, UserID: 100, Expression: "happy cat"})
}

func TestCloseIdempotent(t *testing.T) {
	c := NewCollector(nil, 4)
	c.Start(context.Background())
	c.Close()
	c.Close()
}
