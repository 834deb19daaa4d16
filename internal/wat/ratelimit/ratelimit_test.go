package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow(42) {
			t.Fatalf("request %d denied within budget", i)
		}
	}
	if l.Allow(42) {
		t.Fatal("request allowed past budget")
	}
	// Other users have their own bucket.
	if !l.Allow(43) {
		t.Fatal("different user denied")
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow(1) {
			t.Fatal("zero-limit limiter denied a request")
		}
	}
}

func TestRefill(t *testing.T) {
	l := New(10, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		l.Allow(1)
	}
	if l.Allow(1) {
		t.Fatal("request allowed with empty bucket")
	}
	time.Sleep(150 * time.Millisecond)
	if !l.Allow(1) {
		t.Fatal("request denied after refill window")
	}
}
