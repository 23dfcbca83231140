package ratelimit

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestShouldThrottleWithinLimit(t *testing.T) {
	g := New(testLogger(), 60, time.Millisecond)
	if wait, _ := g.ShouldThrottle("example.com"); wait {
		t.Fatalf("expected no throttle on first request")
	}
	g.Register("example.com")
	time.Sleep(2 * time.Millisecond)
	if wait, _ := g.ShouldThrottle("example.com"); wait {
		t.Fatalf("expected no throttle after cooldown elapses")
	}
}

func TestShouldThrottleAtCap(t *testing.T) {
	g := New(testLogger(), 3, 0)
	for i := 0; i < 3; i++ {
		g.Register("k")
	}
	wait, d := g.ShouldThrottle("k")
	if !wait {
		t.Fatalf("expected throttle once at cap")
	}
	if d <= 0 {
		t.Fatalf("expected positive wait duration, got %v", d)
	}
}

func TestAdaptSlowLatencyTightens(t *testing.T) {
	g := New(testLogger(), 60, time.Second)
	g.Adapt("k", 3*time.Second, 200)
	snap := g.Snapshot("k")
	if snap.Limit != 30 {
		t.Fatalf("expected limit halved to 30, got %d", snap.Limit)
	}
	if snap.Cooldown < 1500*time.Millisecond {
		t.Fatalf("expected cooldown >= 1.5s, got %v", snap.Cooldown)
	}
}

func TestAdaptFastLatencyRelaxes(t *testing.T) {
	g := New(testLogger(), 60, time.Second)
	g.Adapt("k", 100*time.Millisecond, 200)
	snap := g.Snapshot("k")
	if snap.Limit != 65 {
		t.Fatalf("expected limit raised to 65, got %d", snap.Limit)
	}
	if snap.Cooldown != 900*time.Millisecond {
		t.Fatalf("expected cooldown scaled by 0.9, got %v", snap.Cooldown)
	}
}

func TestAdaptRateLimitedStatus(t *testing.T) {
	g := New(testLogger(), 60, time.Second)
	g.Adapt("k", 100*time.Millisecond, 429)
	snap := g.Snapshot("k")
	if snap.Limit != 20 {
		t.Fatalf("expected limit divided by 3 to 20, got %d", snap.Limit)
	}
	if snap.Cooldown > 10*time.Second {
		t.Fatalf("expected cooldown capped at 10s, got %v", snap.Cooldown)
	}
}

func TestAdaptServerError(t *testing.T) {
	g := New(testLogger(), 60, time.Second)
	g.Adapt("k", 100*time.Millisecond, 503)
	snap := g.Snapshot("k")
	if snap.Limit != 30 {
		t.Fatalf("expected limit halved to 30, got %d", snap.Limit)
	}
}

func TestSlidingWindowPrunesOldHits(t *testing.T) {
	g := New(testLogger(), 2, 0)
	b := g.budgetFor("k")
	b.hits = []time.Time{time.Now().Add(-90 * time.Second)}
	wait, _ := g.ShouldThrottle("k")
	if wait {
		t.Fatalf("expected stale hit to be pruned, freeing capacity")
	}
}
