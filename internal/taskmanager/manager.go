// Package taskmanager implements the task manager (spec C10): named
// tasks with dependency sets, reverse-topological batch execution with
// cycle detection, optional cron-5 schedules, and bounded execution
// history — layered on top of the C8 worker pool and C9 monitor.
package taskmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wiseflow-dev/wiseflow/internal/taskengine"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine/monitor"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// Manager is the spec C10 task manager.
type Manager struct {
	logger       *slog.Logger
	pool         *taskengine.Pool
	monitor      *monitor.Monitor
	cron         *cron.Cron
	historyLimit int

	mu          sync.RWMutex
	tasks       map[string]*types.TaskDefinition
	cronEntries map[string]cron.EntryID
	history     map[string][]*types.TaskExecution
}

// New constructs a Manager. historyLimit bounds each task's retained
// execution history (spec.md §4.10).
func New(logger *slog.Logger, pool *taskengine.Pool, mon *monitor.Monitor, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Manager{
		logger:       logger.With("component", "task_manager"),
		pool:         pool,
		monitor:      mon,
		cron:         cron.New(), // cron.New() parses the standard cron-5 (minute hour dom month dow) spec
		historyLimit: historyLimit,
		tasks:        make(map[string]*types.TaskDefinition),
		cronEntries:  make(map[string]cron.EntryID),
		history:      make(map[string][]*types.TaskExecution),
	}
}

// StartScheduler launches the cron dispatch loop. Safe to call once.
func (m *Manager) StartScheduler() { m.cron.Start() }

// StopScheduler stops the cron dispatch loop, waiting for any in-flight
// dispatch to return.
func (m *Manager) StopScheduler(ctx context.Context) {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// RegisterTask adds (or replaces) a named task definition. If the task
// declares a cron-5 Schedule, it is wired into the scheduler immediately.
func (m *Manager) RegisterTask(t *types.TaskDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.cronEntries[t.ID]; ok {
		m.cron.Remove(old)
		delete(m.cronEntries, t.ID)
	}
	m.tasks[t.ID] = t

	if t.Schedule == "" {
		return nil
	}
	entryID, err := m.cron.AddFunc(t.Schedule, func() {
		if _, err := m.submitOne(t.ID); err != nil {
			m.logger.Warn("scheduled task submit failed", "task_id", t.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("taskmanager: invalid schedule for task %s: %w", t.ID, err)
	}
	m.cronEntries[t.ID] = entryID
	return nil
}

// ExecuteTasks runs ids in reverse-topological order (dependencies
// before dependents), aborting with *types.ErrCycleDetected if the
// requested batch's dependency graph has a cycle, or
// *types.ErrDependencyUnsatisfied if a task's dependency has not most
// recently completed successfully by the time it is reached.
func (m *Manager) ExecuteTasks(ctx context.Context, ids []string) error {
	order, err := m.topoOrder(ids)
	if err != nil {
		return err
	}

	for _, id := range order {
		if err := m.runDependencyChecked(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) runDependencyChecked(ctx context.Context, id string) error {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("taskmanager: unknown task %s", id)
	}

	var missing []string
	for _, dep := range task.DependsOn() {
		if !m.dependencySatisfied(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &types.ErrDependencyUnsatisfied{TaskID: id, Missing: missing}
	}

	_, err := m.submitAndWait(ctx, id)
	return err
}

// dependencySatisfied reports whether depID's most recent execution
// completed successfully (spec.md §4.10).
func (m *Manager) dependencySatisfied(depID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[depID]
	if len(h) == 0 {
		return false
	}
	return h[len(h)-1].Status == types.TaskCompleted
}

func (m *Manager) submitOne(id string) (string, error) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("taskmanager: unknown task %s", id)
	}
	if m.monitor != nil {
		m.monitor.Register(task.ID, task.Name, task.Description, nil)
		m.monitor.Start(task.ID)
	}
	return m.pool.Submit(task)
}

// submitAndWait submits id and blocks until its execution reaches a
// terminal state, recording it into bounded history and the monitor.
func (m *Manager) submitAndWait(ctx context.Context, id string) (*types.TaskExecution, error) {
	if _, err := m.submitOne(id); err != nil {
		return nil, err
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
			m.recordHistory(id, exec)
			if m.monitor != nil {
				m.monitor.RecordExecution(id, exec)
			}
			if exec.Status != types.TaskCompleted {
				return exec, fmt.Errorf("taskmanager: task %s finished with status %s", id, exec.Status)
			}
			return exec, nil
		}
	}
}

func (m *Manager) recordHistory(id string, exec *types.TaskExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[id], exec)
	if len(h) > m.historyLimit {
		h = h[len(h)-m.historyLimit:]
	}
	m.history[id] = h
}

// History returns taskID's bounded execution history, oldest first.
func (m *Manager) History(taskID string) []*types.TaskExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.TaskExecution, len(m.history[taskID]))
	copy(out, m.history[taskID])
	return out
}

// topoOrder computes a dependency-respecting run order for ids via
// temp-mark DFS, detecting cycles across every task reachable from ids
// through dependencies (not just the requested ids) since a dependency
// outside ids may itself cycle back.
func (m *Manager) topoOrder(ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var order []string
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return &types.ErrCycleDetected{Cycle: append(append([]string{}, path...), id)}
		}
		state[id] = visiting
		path = append(path, id)

		if task, ok := m.tasks[id]; ok {
			for _, dep := range task.DependsOn() {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
