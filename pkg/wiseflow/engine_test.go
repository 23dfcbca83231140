package wiseflow

import (
	"context"
	"testing"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/facade"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

type stubConnector struct {
	*connector.Base
	items []*types.DataItem
}

func newStubConnector(name string, items []*types.DataItem) *stubConnector {
	return &stubConnector{Base: connector.NewBase(name, name, connector.BaseConfig{Enabled: true}), items: items}
}

func (s *stubConnector) Initialize(ctx context.Context) error { return nil }
func (s *stubConnector) Shutdown(ctx context.Context) error   { return nil }
func (s *stubConnector) Collect(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return s.items, nil
}
func (s *stubConnector) CollectAsync(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return s.Collect(ctx, params)
}

func TestEngineRunsRegisteredMiningTaskEndToEnd(t *testing.T) {
	item := &types.DataItem{SourceID: "d1", Content: "hello"}
	conn := newStubConnector("stub", []*types.DataItem{item})

	eng, err := New(
		WithStorageDir(t.TempDir()),
		WithWorkers(1, 2),
		WithConnector(conn),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	task, err := eng.Mining.CreateTask(ctx, "test task", types.MiningTaskType("stub"), map[string]any{})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	result, err := eng.Mining.RunTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if result["item_count"] != 1 {
		t.Fatalf("expected one item in result, got %+v", result)
	}

	got, err := eng.Mining.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != types.MiningCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestWithModeLegacyWiresTaskManager(t *testing.T) {
	eng, err := New(
		WithStorageDir(t.TempDir()),
		WithMode(facade.ModeLegacy),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if eng.legacy == nil {
		t.Fatalf("expected a wired task manager in legacy mode")
	}
}
