// Package facade implements the unified task-management facade (spec
// C14): a single register/execute/cancel/status/result/error/list/cleanup
// surface bridging the legacy dependency-graph task manager (C10) and the
// direct worker-pool-plus-monitor path (C8+C9), selected by a
// configuration switch. Both paths submit to the same underlying pool, so
// a task's id is stable and its status/result/error are readable through
// this facade regardless of which path handled it.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/taskengine"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine/monitor"
	"github.com/wiseflow-dev/wiseflow/internal/taskmanager"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// Mode selects which task-management path new registrations take.
type Mode string

const (
	// ModeLegacy routes through the C10 task manager: dependency-graph
	// resolution, cycle detection, and optional cron schedules.
	ModeLegacy Mode = "legacy"
	// ModeDirect submits straight to the C8 pool and C9 monitor,
	// skipping dependency resolution and scheduling entirely.
	ModeDirect Mode = "direct"
)

// Manager is the spec C14 unified facade.
type Manager struct {
	logger  *slog.Logger
	mode    Mode
	legacy  *taskmanager.Manager
	pool    *taskengine.Pool
	monitor *monitor.Monitor

	mu    sync.RWMutex
	tasks map[string]*types.TaskDefinition
}

// New constructs a Manager in mode. legacy may be nil only if mode is
// never ModeLegacy; monitor may be nil (status/result/error still work
// off the pool's own execution records).
func New(logger *slog.Logger, mode Mode, legacy *taskmanager.Manager, pool *taskengine.Pool, mon *monitor.Monitor) *Manager {
	return &Manager{
		logger:  logger.With("component", "facade"),
		mode:    mode,
		legacy:  legacy,
		pool:    pool,
		monitor: mon,
		tasks:   make(map[string]*types.TaskDefinition),
	}
}

// RegisterTask adds t under the facade's active mode, returning its id.
func (m *Manager) RegisterTask(t *types.TaskDefinition) (string, error) {
	if m.mode == ModeLegacy {
		if m.legacy == nil {
			return "", fmt.Errorf("facade: legacy mode configured but no task manager wired")
		}
		if err := m.legacy.RegisterTask(t); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	m.logger.Info("task registered", "task_id", t.ID, "name", t.Name, "mode", m.mode)
	return t.ID, nil
}

// ExecuteTask runs id. If wait is true, it blocks until the execution
// reaches a terminal state and returns that execution; otherwise it
// fires the task and returns immediately with a nil execution.
func (m *Manager) ExecuteTask(ctx context.Context, id string, wait bool) (*types.TaskExecution, error) {
	m.mu.RLock()
	_, known := m.tasks[id]
	m.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("facade: unknown task %s", id)
	}

	if m.mode == ModeLegacy {
		return m.executeLegacy(ctx, id, wait)
	}
	return m.executeDirect(ctx, id, wait)
}

func (m *Manager) executeLegacy(ctx context.Context, id string, wait bool) (*types.TaskExecution, error) {
	if !wait {
		go func() {
			if err := m.legacy.ExecuteTasks(context.Background(), []string{id}); err != nil {
				m.logger.Warn("async legacy execute failed", "task_id", id, "error", err)
			}
		}()
		return nil, nil
	}

	execErr := m.legacy.ExecuteTasks(ctx, []string{id})
	exec, _ := m.pool.Status(id)
	return exec, execErr
}

func (m *Manager) executeDirect(ctx context.Context, id string, wait bool) (*types.TaskExecution, error) {
	m.mu.RLock()
	t := m.tasks[id]
	m.mu.RUnlock()

	if m.monitor != nil {
		m.monitor.Register(t.ID, t.Name, t.Description, nil)
		m.monitor.Start(t.ID)
	}
	if _, err := m.pool.Submit(t); err != nil {
		return nil, err
	}
	if !wait {
		return nil, nil
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			exec, ok := m.pool.Status(id)
			if !ok || !exec.IsTerminal() {
				continue
			}
			if m.monitor != nil {
				m.monitor.RecordExecution(id, exec)
			}
			return exec, nil
		}
	}
}

// CancelTask cancels id. Both paths submit to the same pool, so
// cancellation is always a direct pool operation regardless of mode.
func (m *Manager) CancelTask(id string) error {
	return m.pool.Cancel(id)
}

// TaskStatus returns id's most recently recorded status.
func (m *Manager) TaskStatus(id string) (types.TaskStatus, error) {
	exec, ok := m.pool.Status(id)
	if !ok {
		return "", fmt.Errorf("facade: no execution recorded for task %s", id)
	}
	return exec.Status, nil
}

// TaskResult returns id's result, set once its most recent execution
// completes (successfully or not).
func (m *Manager) TaskResult(id string) (any, error) {
	exec, ok := m.pool.Status(id)
	if !ok {
		return nil, fmt.Errorf("facade: no execution recorded for task %s", id)
	}
	return exec.Result, nil
}

// TaskError returns id's error, set if its most recent execution failed.
func (m *Manager) TaskError(id string) (error, error) {
	exec, ok := m.pool.Status(id)
	if !ok {
		return nil, fmt.Errorf("facade: no execution recorded for task %s", id)
	}
	return exec.Error, nil
}

// ListTasks returns every registered task definition matching pred. A nil
// pred returns every task.
func (m *Manager) ListTasks(pred func(*types.TaskDefinition) bool) []*types.TaskDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.TaskDefinition, 0, len(m.tasks))
	for _, t := range m.tasks {
		if pred == nil || pred(t) {
			out = append(out, t)
		}
	}
	return out
}

// CleanupCompleted discards the facade's own registration plus the
// pool/monitor records for every task whose most recent execution
// finished more than maxAge ago, returning the count removed.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		exec, ok := m.pool.Status(id)
		if !ok || !exec.IsTerminal() || exec.EndTime.After(cutoff) {
			continue
		}
		m.pool.Forget(id)
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
		removed++
	}
	if m.monitor != nil {
		removed += m.monitor.CleanupCompleted(maxAge)
	}
	return removed
}
