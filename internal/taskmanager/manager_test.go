package taskmanager

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/taskengine"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine/monitor"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pool := taskengine.New(testLogger(), nil, nil, taskengine.Config{MinWorkers: 2, MaxWorkers: 2, AdjustInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)
	mon := monitor.New(testLogger(), 10, 0)
	return New(testLogger(), pool, mon, 10)
}

func simpleTask(id string, fn types.TaskFunc) *types.TaskDefinition {
	t := types.NewTaskDefinition(id, fn)
	t.ID = id
	t.Timeout = time.Second
	return t
}

func TestExecuteTasksRunsDependenciesFirst(t *testing.T) {
	m := newTestManager(t)
	var order []string
	record := func(name string) types.TaskFunc {
		return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			order = append(order, name)
			return nil, nil
		}
	}

	a := simpleTask("a", record("a"))
	b := simpleTask("b", record("b"))
	b.Dependencies["a"] = struct{}{}

	if err := m.RegisterTask(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.RegisterTask(b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if err := m.ExecuteTasks(context.Background(), []string{"b"}); err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b] execution order, got %v", order)
	}
}

func TestExecuteTasksDetectsCycle(t *testing.T) {
	m := newTestManager(t)
	a := simpleTask("a", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) { return nil, nil })
	b := simpleTask("b", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) { return nil, nil })
	a.Dependencies["b"] = struct{}{}
	b.Dependencies["a"] = struct{}{}

	_ = m.RegisterTask(a)
	_ = m.RegisterTask(b)

	var cycleErr *types.ErrCycleDetected
	err := m.ExecuteTasks(context.Background(), []string{"a"})
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestExecuteTasksPropagatesFailure(t *testing.T) {
	m := newTestManager(t)
	failing := simpleTask("fails", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	failing.MaxRetries = 0
	_ = m.RegisterTask(failing)

	if err := m.ExecuteTasks(context.Background(), []string{"fails"}); err == nil {
		t.Fatalf("expected error for failing task")
	}
	h := m.History("fails")
	if len(h) != 1 || h[0].Status != types.TaskFailed {
		t.Fatalf("expected one failed history entry, got %+v", h)
	}
}

func TestRegisterTaskWithScheduleWiresIntoCron(t *testing.T) {
	m := newTestManager(t)
	scheduled := simpleTask("scheduled", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	scheduled.Schedule = "*/5 * * * *"
	if err := m.RegisterTask(scheduled); err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	if _, ok := m.cronEntries["scheduled"]; !ok {
		t.Fatalf("expected cron entry registered")
	}
}

func TestRegisterTaskRejectsInvalidSchedule(t *testing.T) {
	m := newTestManager(t)
	bad := simpleTask("bad", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) { return nil, nil })
	bad.Schedule = "not-a-cron-expression"
	if err := m.RegisterTask(bad); err == nil {
		t.Fatalf("expected error for invalid cron schedule")
	}
}
