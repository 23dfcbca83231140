// Package mining implements the data-mining manager (spec C11): persisted
// mining tasks, a typed interconnection graph between them, and the
// run_task lifecycle that drives a task's connector to completion and
// propagates results across outbound edges.
package mining

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/storage"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine"
	"github.com/wiseflow-dev/wiseflow/internal/taskengine/monitor"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// EventPublisher is the C13 collaborator notified of lifecycle events.
// Implementations must not block the caller.
type EventPublisher interface {
	Publish(eventType string, payload map[string]any)
}

// Manager is the spec C11 data-mining manager.
type Manager struct {
	logger     *slog.Logger
	store      storage.Store
	pool       *taskengine.Pool
	monitor    *monitor.Monitor
	connectors *connector.Registry
	publisher  EventPublisher

	taskMu sync.Mutex
	edgeMu sync.Mutex
}

// New constructs a Manager. monitor and publisher may be nil.
func New(logger *slog.Logger, store storage.Store, pool *taskengine.Pool, mon *monitor.Monitor, connectors *connector.Registry, publisher EventPublisher) *Manager {
	return &Manager{
		logger:     logger.With("component", "mining_manager"),
		store:      store,
		pool:       pool,
		monitor:    mon,
		connectors: connectors,
		publisher:  publisher,
	}
}

func (m *Manager) publish(eventType string, payload map[string]any) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(eventType, payload)
}

// CreateTask persists a new MiningTask in the active status.
func (m *Manager) CreateTask(ctx context.Context, name string, taskType types.MiningTaskType, searchParams map[string]any) (*types.MiningTask, error) {
	t := types.NewMiningTask(name, taskType, searchParams)

	m.taskMu.Lock()
	defer m.taskMu.Unlock()

	id, err := m.store.Add(ctx, collectionTasks, taskToDoc(t))
	if err != nil {
		return nil, fmt.Errorf("mining: create task: %w", err)
	}
	t.TaskID = id
	return t, nil
}

// GetTask loads a MiningTask by id.
func (m *Manager) GetTask(ctx context.Context, id string) (*types.MiningTask, error) {
	doc, err := m.store.ReadOne(ctx, collectionTasks, id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return nil, &ErrTaskNotFound{TaskID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("mining: get task %s: %w", id, err)
	}
	return docToTask(doc), nil
}

// ListTasks returns every task matching filter.
func (m *Manager) ListTasks(ctx context.Context, filter storage.Filter) ([]*types.MiningTask, error) {
	docs, err := m.store.Read(ctx, collectionTasks, filter, "created_at", false)
	if err != nil {
		return nil, fmt.Errorf("mining: list tasks: %w", err)
	}
	out := make([]*types.MiningTask, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docToTask(doc))
	}
	return out, nil
}

// UpdateTask merges patch into the task's persisted document.
func (m *Manager) UpdateTask(ctx context.Context, id string, patch map[string]any) error {
	m.taskMu.Lock()
	defer m.taskMu.Unlock()
	return m.updateTaskLocked(ctx, id, patch)
}

func (m *Manager) updateTaskLocked(ctx context.Context, id string, patch map[string]any) error {
	patch = cloneMap(patch)
	patch["updated_at"] = time.Now()
	if err := m.store.Update(ctx, collectionTasks, id, patch); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return &ErrTaskNotFound{TaskID: id}
		}
		return fmt.Errorf("mining: update task %s: %w", id, err)
	}
	return nil
}

// DeleteTask removes a task and cascades to every interconnection that
// touches it. It refuses while the task is running.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	m.taskMu.Lock()
	task, err := m.getTaskLocked(ctx, id)
	if err != nil {
		m.taskMu.Unlock()
		return err
	}
	if task.Status == types.MiningRunning {
		m.taskMu.Unlock()
		return &ErrTaskRunning{TaskID: id}
	}
	err = m.store.Delete(ctx, collectionTasks, id)
	m.taskMu.Unlock()
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return fmt.Errorf("mining: delete task %s: %w", id, err)
	}

	m.edgeMu.Lock()
	defer m.edgeMu.Unlock()
	edges, readErr := m.store.Read(ctx, collectionInterconnections, nil, "", false)
	if readErr != nil {
		return fmt.Errorf("mining: cascade delete interconnections for %s: %w", id, readErr)
	}
	for _, doc := range edges {
		edge := docToInterconnection(doc)
		if edge.SourceTaskID == id || edge.TargetTaskID == id {
			if delErr := m.store.Delete(ctx, collectionInterconnections, edge.ID); delErr != nil && !errors.Is(delErr, storage.ErrDocumentNotFound) {
				return fmt.Errorf("mining: cascade delete interconnection %s: %w", edge.ID, delErr)
			}
		}
	}
	return nil
}

func (m *Manager) getTaskLocked(ctx context.Context, id string) (*types.MiningTask, error) {
	doc, err := m.store.ReadOne(ctx, collectionTasks, id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return nil, &ErrTaskNotFound{TaskID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("mining: get task %s: %w", id, err)
	}
	return docToTask(doc), nil
}

// CreateInterconnection persists a new directed, active edge between two
// tasks.
func (m *Manager) CreateInterconnection(ctx context.Context, sourceID, targetID string, typ types.InterconnectionType, description string) (*types.TaskInterconnection, error) {
	if _, err := m.GetTask(ctx, sourceID); err != nil {
		return nil, err
	}
	if _, err := m.GetTask(ctx, targetID); err != nil {
		return nil, err
	}

	edge := types.NewTaskInterconnection(sourceID, targetID, typ)
	edge.Description = description

	m.edgeMu.Lock()
	defer m.edgeMu.Unlock()
	id, err := m.store.Add(ctx, collectionInterconnections, interconnectionToDoc(edge))
	if err != nil {
		return nil, fmt.Errorf("mining: create interconnection: %w", err)
	}
	edge.ID = id
	return edge, nil
}

// DeleteInterconnection removes an edge by id.
func (m *Manager) DeleteInterconnection(ctx context.Context, id string) error {
	m.edgeMu.Lock()
	defer m.edgeMu.Unlock()
	if err := m.store.Delete(ctx, collectionInterconnections, id); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return &ErrInterconnectionNotFound{ID: id}
		}
		return fmt.Errorf("mining: delete interconnection %s: %w", id, err)
	}
	return nil
}

// interconnectionsFrom returns every active edge sourced at taskID.
func (m *Manager) interconnectionsFrom(ctx context.Context, taskID string) ([]*types.TaskInterconnection, error) {
	m.edgeMu.Lock()
	defer m.edgeMu.Unlock()
	docs, err := m.store.Read(ctx, collectionInterconnections, storage.Filter{"source_task_id": taskID}, "", false)
	if err != nil {
		return nil, fmt.Errorf("mining: read interconnections for %s: %w", taskID, err)
	}
	out := make([]*types.TaskInterconnection, 0, len(docs))
	for _, doc := range docs {
		edge := docToInterconnection(doc)
		if edge.Status == types.InterconnectionActive {
			out = append(out, edge)
		}
	}
	return out, nil
}

// AutoShutdownTasksTerminal reports whether any task carries the
// auto_shutdown flag, and whether every such task has reached a terminal
// status. It satisfies the auto-shutdown supervisor's TaskLister
// interface structurally, without that package importing this one.
func (m *Manager) AutoShutdownTasksTerminal() (hasAutoShutdownTasks, allTerminal bool) {
	tasks, err := m.ListTasks(context.Background(), nil)
	if err != nil {
		m.logger.Warn("auto-shutdown task scan failed", "error", err)
		return false, false
	}

	allTerminal = true
	for _, t := range tasks {
		if !t.AutoShutdown {
			continue
		}
		hasAutoShutdownTasks = true
		switch t.Status {
		case types.MiningCompleted, types.MiningError, types.MiningCancelled:
		default:
			allTerminal = false
		}
	}
	return hasAutoShutdownTasks, allTerminal
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
