package mining

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/storage"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine/monitor"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConnector is a minimal connector.Connector used to drive run_task
// without any real network access.
type fakeConnector struct {
	*connector.Base
	collect func(ctx context.Context, params map[string]any) ([]*types.DataItem, error)
}

func newFakeConnector(family string, collect func(ctx context.Context, params map[string]any) ([]*types.DataItem, error)) *fakeConnector {
	return &fakeConnector{
		Base:    connector.NewBase(family, family, connector.BaseConfig{Enabled: true}),
		collect: collect,
	}
}

func (f *fakeConnector) Initialize(ctx context.Context) error { return nil }
func (f *fakeConnector) Shutdown(ctx context.Context) error    { return nil }
func (f *fakeConnector) Collect(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return f.collect(ctx, params)
}
func (f *fakeConnector) CollectAsync(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return f.collect(ctx, params)
}

type testRig struct {
	manager    *Manager
	store      storage.Store
	pool       *taskengine.Pool
	connectors *connector.Registry
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	pool := taskengine.New(testLogger(), nil, nil, taskengine.Config{MinWorkers: 2, MaxWorkers: 2, AdjustInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)

	mon := monitor.New(testLogger(), 10, 0)
	registry := connector.NewRegistry(testLogger())

	return &testRig{
		manager:    New(testLogger(), store, pool, mon, registry, nil),
		store:      store,
		pool:       pool,
		connectors: registry,
	}
}

func TestCreateTaskThenGetTask(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	task, err := rig.manager.CreateTask(ctx, "alpha", types.MiningTaskWeb, map[string]any{"query": "golang"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.TaskID == "" {
		t.Fatalf("expected generated task id")
	}

	loaded, err := rig.manager.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if loaded.Name != "alpha" || loaded.Status != types.MiningActive {
		t.Fatalf("unexpected loaded task: %+v", loaded)
	}
}

func TestRunTaskRejectsInactiveTask(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	task, _ := rig.manager.CreateTask(ctx, "beta", types.MiningTaskWeb, nil)
	if err := rig.manager.UpdateTask(ctx, task.TaskID, map[string]any{"status": string(types.MiningCompleted)}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	_, err := rig.manager.RunTask(ctx, task.TaskID)
	var notRunnable *ErrNotRunnable
	if !errors.As(err, &notRunnable) {
		t.Fatalf("expected ErrNotRunnable, got %v", err)
	}
}

func TestRunTaskSuccessUpdatesStatusAndResults(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	item, _ := types.NewDataItem("src-1", "hello world")
	conn := newFakeConnector("web", func(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
		return []*types.DataItem{item}, nil
	})
	if err := rig.connectors.Register(conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	task, err := rig.manager.CreateTask(ctx, "gamma", types.MiningTaskWeb, map[string]any{"query": "golang"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := rig.manager.UpdateTask(ctx, task.TaskID, map[string]any{"timeout_ms": int64(5000)}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	results, err := rig.manager.RunTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if results["item_count"] != 1 {
		t.Fatalf("expected item_count 1, got %+v", results)
	}

	final, err := rig.manager.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if final.Status != types.MiningCompleted {
		t.Fatalf("expected completed status, got %s", final.Status)
	}
}

func TestRunTaskFailureWithoutRetriesSetsError(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	conn := newFakeConnector("web", func(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
		return nil, errors.New("boom")
	})
	if err := rig.connectors.Register(conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	task, err := rig.manager.CreateTask(ctx, "delta", types.MiningTaskWeb, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := rig.manager.UpdateTask(ctx, task.TaskID, map[string]any{"timeout_ms": int64(2000), "max_retries": 0}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	_, err = rig.manager.RunTask(ctx, task.TaskID)
	if err == nil {
		t.Fatalf("expected error from permanently failing task")
	}

	final, err := rig.manager.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if final.Status != types.MiningError || final.Error == "" {
		t.Fatalf("expected error status with message, got %+v", final)
	}
}

func TestDeleteTaskRefusesWhileRunning(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	task, err := rig.manager.CreateTask(ctx, "epsilon", types.MiningTaskWeb, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := rig.manager.UpdateTask(ctx, task.TaskID, map[string]any{"status": string(types.MiningRunning)}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	var runningErr *ErrTaskRunning
	if err := rig.manager.DeleteTask(ctx, task.TaskID); !errors.As(err, &runningErr) {
		t.Fatalf("expected ErrTaskRunning, got %v", err)
	}
}

func TestDeleteTaskCascadesInterconnections(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	source, _ := rig.manager.CreateTask(ctx, "source", types.MiningTaskWeb, nil)
	target, _ := rig.manager.CreateTask(ctx, "target", types.MiningTaskWeb, nil)

	edge, err := rig.manager.CreateInterconnection(ctx, source.TaskID, target.TaskID, types.InterconnectFeed, "")
	if err != nil {
		t.Fatalf("CreateInterconnection: %v", err)
	}

	if err := rig.manager.DeleteTask(ctx, source.TaskID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	if err := rig.manager.DeleteInterconnection(ctx, edge.ID); err == nil {
		t.Fatalf("expected interconnection to already be cascade-deleted")
	}
}

func TestPropagateFeedCopiesResultsAndRunsTarget(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	sourceItem, _ := types.NewDataItem("src", "source content")
	targetRan := make(chan struct{}, 1)
	conn := newFakeConnector("web", func(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
		if _, ok := params["input_from_task"]; ok {
			select {
			case targetRan <- struct{}{}:
			default:
			}
		}
		return []*types.DataItem{sourceItem}, nil
	})
	if err := rig.connectors.Register(conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	source, _ := rig.manager.CreateTask(ctx, "source", types.MiningTaskWeb, nil)
	target, _ := rig.manager.CreateTask(ctx, "target", types.MiningTaskWeb, map[string]any{"query": "x"})
	for _, task := range []*types.MiningTask{source, target} {
		if err := rig.manager.UpdateTask(ctx, task.TaskID, map[string]any{"timeout_ms": int64(5000)}); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}
	}

	if _, err := rig.manager.CreateInterconnection(ctx, source.TaskID, target.TaskID, types.InterconnectFeed, ""); err != nil {
		t.Fatalf("CreateInterconnection: %v", err)
	}

	if _, err := rig.manager.RunTask(ctx, source.TaskID); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	select {
	case <-targetRan:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected fed target task to run with input_from_task")
	}
}
