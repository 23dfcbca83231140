package taskengine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := New(testLogger(), nil, nil, Config{MinWorkers: 2, MaxWorkers: 2, AdjustInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
	return p
}

func waitForStatus(t *testing.T, p *Pool, id string, want types.TaskStatus, timeout time.Duration) *types.TaskExecution {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if exec, ok := p.Status(id); ok && exec.IsTerminal() {
			if exec.Status != want {
				t.Fatalf("task %s: expected status %s, got %s", id, want, exec.Status)
			}
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached terminal status %s", id, want)
	return nil
}

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	p := newTestPool(t)
	task := types.NewTaskDefinition("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "ok", nil
	})
	task.Timeout = time.Second

	id, err := p.Submit(task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	exec := waitForStatus(t, p, id, types.TaskCompleted, time.Second)
	if exec.Result != "ok" {
		t.Fatalf("expected result %q, got %v", "ok", exec.Result)
	}
}

func TestSubmitRejectsZeroTimeout(t *testing.T) {
	p := newTestPool(t)
	task := types.NewTaskDefinition("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	if _, err := p.Submit(task); !errors.Is(err, types.ErrZeroTimeout) {
		t.Fatalf("expected ErrZeroTimeout, got %v", err)
	}
}

func TestFailingTaskRetriesThenFails(t *testing.T) {
	p := newTestPool(t)
	var attempts int32
	task := types.NewTaskDefinition("flaky", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("boom")
	})
	task.Timeout = time.Second
	task.MaxRetries = 2
	task.RetryDelay = time.Millisecond

	id, err := p.Submit(task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, p, id, types.TaskFailed, 2*time.Second)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestCancelPendingTaskBeforeItRuns(t *testing.T) {
	p := New(testLogger(), nil, nil, Config{MinWorkers: 0, MaxWorkers: 0, AdjustInterval: time.Hour})
	task := types.NewTaskDefinition("never-runs", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	task.Timeout = time.Second

	id, err := p.Submit(task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	exec, ok := p.Status(id)
	if !ok || exec.Status != types.TaskCancelled {
		t.Fatalf("expected cancelled status, got %+v ok=%v", exec, ok)
	}
	if err := p.Cancel(id); err == nil {
		t.Fatalf("expected error cancelling an already-cancelled task")
	}
}

func TestMetricsSnapshotTracksCompletion(t *testing.T) {
	p := newTestPool(t)
	task := types.NewTaskDefinition("metric-check", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	task.Timeout = time.Second

	id, _ := p.Submit(task)
	waitForStatus(t, p, id, types.TaskCompleted, time.Second)

	snap := p.Metrics().Snapshot()
	if snap.Submitted < 1 || snap.Completed < 1 {
		t.Fatalf("expected submitted/completed >= 1, got %+v", snap)
	}
}
