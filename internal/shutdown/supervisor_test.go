package shutdown

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProbe struct{ sample ResourceSample }

func (f fakeProbe) Latest() ResourceSample { return f.sample }

type fakeTasks struct {
	hasAutoShutdown bool
	allTerminal     bool
}

func (f fakeTasks) AutoShutdownTasksTerminal() (bool, bool) { return f.hasAutoShutdown, f.allTerminal }

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestTriggerFiresOnlyOnceAndPublishesSystemShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	shutdownCalled := make(chan struct{}, 1)
	s := New(testLogger(), Config{Enabled: true, GracefulTimeout: time.Millisecond}, nil, nil, pub, func(ctx context.Context) error {
		shutdownCalled <- struct{}{}
		return nil
	})

	s.trigger(context.Background(), "test reason")
	s.trigger(context.Background(), "second call should be a no-op")

	select {
	case <-shutdownCalled:
	case <-time.After(time.Second):
		t.Fatalf("expected shutdown func to be called")
	}

	if pub.count() != 1 {
		t.Fatalf("expected exactly one system_shutdown publish, got %d", pub.count())
	}
	requested, reason := s.Requested()
	if !requested || reason != "test reason" {
		t.Fatalf("expected Requested to report the first reason, got %v %q", requested, reason)
	}
}

func TestCheckIdleFiresPastTimeout(t *testing.T) {
	s := New(testLogger(), Config{Enabled: true, IdleTimeout: time.Millisecond}, nil, nil, nil, nil)
	time.Sleep(5 * time.Millisecond)
	if _, fire := s.checkIdle(); !fire {
		t.Fatalf("expected idle predicate to fire")
	}
}

func TestCheckIdleDoesNotFireAfterTouch(t *testing.T) {
	s := New(testLogger(), Config{Enabled: true, IdleTimeout: time.Hour}, nil, nil, nil, nil)
	s.Touch()
	if _, fire := s.checkIdle(); fire {
		t.Fatalf("expected idle predicate not to fire right after Touch")
	}
}

func TestCheckResourcePressureFiresAboveThreshold(t *testing.T) {
	probe := fakeProbe{sample: ResourceSample{CPUPercent: 95}}
	s := New(testLogger(), Config{Enabled: true, ResourceThresholds: Thresholds{CPUPercent: 90}}, probe, nil, nil, nil)
	reason, fire := s.checkResourcePressure()
	if !fire || reason == "" {
		t.Fatalf("expected cpu pressure predicate to fire")
	}
}

func TestCheckResourcePressureIgnoresZeroThreshold(t *testing.T) {
	probe := fakeProbe{sample: ResourceSample{CPUPercent: 99}}
	s := New(testLogger(), Config{Enabled: true}, probe, nil, nil, nil)
	if _, fire := s.checkResourcePressure(); fire {
		t.Fatalf("expected a zero threshold to disable the predicate")
	}
}

func TestCheckCompletionArmsThenFiresAfterWait(t *testing.T) {
	tasks := fakeTasks{hasAutoShutdown: true, allTerminal: true}
	s := New(testLogger(), Config{Enabled: true, CompletionWait: 5 * time.Millisecond}, nil, tasks, nil, nil)

	if _, fire := s.checkCompletion(); fire {
		t.Fatalf("expected first observation to only arm the timer, not fire")
	}
	time.Sleep(10 * time.Millisecond)
	if _, fire := s.checkCompletion(); !fire {
		t.Fatalf("expected completion predicate to fire once wait elapses")
	}
}

func TestCheckCompletionDisarmsWhenNoLongerTerminal(t *testing.T) {
	s := New(testLogger(), Config{Enabled: true, CompletionWait: time.Millisecond}, nil, nil, nil, nil)
	s.tasks = fakeTasks{hasAutoShutdown: true, allTerminal: true}
	s.checkCompletion()
	time.Sleep(2 * time.Millisecond)

	s.tasks = fakeTasks{hasAutoShutdown: true, allTerminal: false}
	if _, fire := s.checkCompletion(); fire {
		t.Fatalf("expected predicate to disarm once a task is no longer terminal")
	}
}
