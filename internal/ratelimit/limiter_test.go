package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterPermitsUpToCount(t *testing.T) {
	l := New(2, 5*time.Second)
	base := time.Now()

	if !l.Allow(base) {
		t.Fatal("expected first fire to be permitted")
	}
	if !l.Allow(base.Add(time.Second)) {
		t.Fatal("expected second fire to be permitted")
	}
	if l.Allow(base.Add(2 * time.Second)) {
		t.Fatal("expected third fire within window to be denied")
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l := New(2, 5*time.Second)
	base := time.Now()

	l.Allow(base)
	l.Allow(base.Add(time.Second))

	if l.Allow(base.Add(3 * time.Second)) {
		t.Fatal("still within window, should be denied")
	}

	// Past the window for the first fire only.
	if !l.Allow(base.Add(6 * time.Second)) {
		t.Fatal("first fire should have aged out, permitting a new one")
	}
}

func TestLimiterScenarioRate2Per5(t *testing.T) {
	// rate_limit=2/5, poll_interval=1, 10 passes.
	l := New(2, 5*time.Second)
	base := time.Now()
	var fires int
	for pass := 0; pass < 10; pass++ {
		t := base.Add(time.Duration(pass) * time.Second)
		if l.Allow(t) {
			fires++
		}
	}
	if fires < 2 {
		t.Fatalf("expected at least 2 fires across 10 passes, got %d", fires)
	}
}
