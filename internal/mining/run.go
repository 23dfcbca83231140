package mining

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// RunTask drives task id through its full lifecycle: load, transition to
// running, invoke its connector on the worker pool within its timeout,
// then either propagate results across outbound interconnections, retry
// with exponential backoff, or record a terminal error. It returns the
// task's final results (or {"error": "task cancelled"} on cancellation).
func (m *Manager) RunTask(ctx context.Context, taskID string) (map[string]any, error) {
	task, err := m.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.MiningActive {
		return nil, &ErrNotRunnable{TaskID: taskID, Status: string(task.Status)}
	}

	m.logger.Info("running mining task", "task_id", taskID, "type", task.TaskType)
	if err := m.UpdateTask(ctx, taskID, map[string]any{"status": string(types.MiningRunning)}); err != nil {
		return nil, err
	}

	if m.monitor != nil {
		if _, ok := m.monitor.Get(taskID); !ok {
			m.monitor.Register(taskID, string(task.TaskType), task.Description, map[string]any{
				"name":     task.Name,
				"priority": task.Priority.String(),
			})
		}
		m.monitor.Start(taskID)
	}
	m.publish("task_started", map[string]any{"task_id": taskID, "task_type": string(task.TaskType)})

	started := time.Now()
	items, runErr := m.executeOnPool(ctx, task)

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		return m.finishCancelled(ctx, task)
	case runErr != nil:
		return m.finishFailure(ctx, task, runErr)
	default:
		return m.finishSuccess(ctx, task, items, time.Since(started))
	}
}

// executeOnPool builds a runnable that constructs the task's connector,
// initializes it, collects within the task's timeout, and shuts it down,
// then submits that runnable to the worker pool and blocks for its
// terminal execution. C11 owns its own retry policy (run_task step 5), so
// the submitted definition disables C8's own retries.
func (m *Manager) executeOnPool(ctx context.Context, task *types.MiningTask) ([]*types.DataItem, error) {
	conn, ok := m.connectors.Get(string(task.TaskType))
	if !ok {
		return nil, &ErrNoConnector{TaskType: string(task.TaskType)}
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	def := types.NewTaskDefinition(task.Name, func(runCtx context.Context, args []any, kwargs map[string]any) (any, error) {
		if err := conn.Initialize(runCtx); err != nil {
			return nil, fmt.Errorf("connector initialize: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := conn.Shutdown(shutdownCtx); err != nil {
				m.logger.Warn("connector shutdown failed", "task_id", task.TaskID, "error", err)
			}
		}()
		return conn.Collect(runCtx, task.SearchParams)
	})
	def.ID = task.TaskID
	def.Priority = task.Priority
	def.MaxRetries = 0
	def.Timeout = timeout

	if _, err := m.pool.Submit(def); err != nil {
		return nil, fmt.Errorf("mining: submit task %s: %w", task.TaskID, err)
	}

	exec, err := m.waitForTerminal(ctx, task.TaskID)
	if err != nil {
		return nil, err
	}
	if exec.Status == types.TaskCancelled {
		return nil, context.Canceled
	}
	if exec.Status == types.TaskFailed {
		return nil, exec.Error
	}
	items, _ := exec.Result.([]*types.DataItem)
	return items, nil
}

func (m *Manager) waitForTerminal(ctx context.Context, taskID string) (*types.TaskExecution, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			exec, ok := m.pool.Status(taskID)
			if !ok || !exec.IsTerminal() {
				continue
			}
			return exec, nil
		}
	}
}

func (m *Manager) finishSuccess(ctx context.Context, task *types.MiningTask, items []*types.DataItem, execTime time.Duration) (map[string]any, error) {
	results := map[string]any{
		"task_id":        task.TaskID,
		"task_type":      string(task.TaskType),
		"processed_at":   time.Now(),
		"execution_time": execTime.Seconds(),
		"items":          items,
		"item_count":     len(items),
	}

	processed, err := m.propagateInterconnections(ctx, task, results)
	if err != nil {
		m.logger.Error("interconnection propagation failed", "task_id", task.TaskID, "error", err)
		processed = results
	}

	if err := m.UpdateTask(ctx, task.TaskID, map[string]any{
		"status":  string(types.MiningCompleted),
		"results": processed,
	}); err != nil {
		return nil, err
	}

	if m.monitor != nil {
		exec := types.NewTaskExecution(task.TaskID)
		exec.Finish(types.TaskCompleted, processed, nil)
		exec.ExecutionTime = execTime
		m.monitor.RecordExecution(task.TaskID, exec)
	}
	m.publish("task_completed", map[string]any{"task_id": task.TaskID})
	m.logger.Info("completed mining task", "task_id", task.TaskID)
	return processed, nil
}

func (m *Manager) finishCancelled(ctx context.Context, task *types.MiningTask) (map[string]any, error) {
	if err := m.UpdateTask(ctx, task.TaskID, map[string]any{"status": string(types.MiningCancelled)}); err != nil {
		return nil, err
	}
	if m.monitor != nil {
		exec := types.NewTaskExecution(task.TaskID)
		exec.Finish(types.TaskCancelled, nil, nil)
		m.monitor.RecordExecution(task.TaskID, exec)
	}
	m.publish("task_cancelled", map[string]any{"task_id": task.TaskID})
	m.logger.Info("cancelled mining task", "task_id", task.TaskID)
	return map[string]any{"error": "task cancelled"}, nil
}

func (m *Manager) finishFailure(ctx context.Context, task *types.MiningTask, runErr error) (map[string]any, error) {
	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		if err := m.UpdateTask(ctx, task.TaskID, map[string]any{
			"status":      string(types.MiningActive),
			"retry_count": task.RetryCount,
		}); err != nil {
			return nil, err
		}

		delay := time.Duration(1<<uint(task.RetryCount-1)) * time.Second
		m.logger.Info("retrying mining task", "task_id", task.TaskID, "attempt", task.RetryCount, "max_retries", task.MaxRetries, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return m.RunTask(ctx, task.TaskID)
	}

	if err := m.UpdateTask(ctx, task.TaskID, map[string]any{
		"status": string(types.MiningError),
		"error":  runErr.Error(),
	}); err != nil {
		return nil, err
	}
	if m.monitor != nil {
		exec := types.NewTaskExecution(task.TaskID)
		exec.Finish(types.TaskFailed, nil, runErr)
		m.monitor.RecordExecution(task.TaskID, exec)
	}
	m.publish("task_failed", map[string]any{"task_id": task.TaskID, "error": runErr.Error()})
	m.logger.Error("mining task failed permanently", "task_id", task.TaskID, "error", runErr)
	return nil, runErr
}

// propagateInterconnections applies every outbound interconnection from
// task per its type (spec.md §4.11 step 4), returning results annotated
// with combine's "combined_with" marker where applicable.
func (m *Manager) propagateInterconnections(ctx context.Context, task *types.MiningTask, results map[string]any) (map[string]any, error) {
	edges, err := m.interconnectionsFrom(ctx, task.TaskID)
	if err != nil {
		return results, err
	}
	if len(edges) == 0 {
		return results, nil
	}

	processed := cloneMap(results)
	for _, edge := range edges {
		target, err := m.GetTask(ctx, edge.TargetTaskID)
		if err != nil {
			m.logger.Warn("interconnection target not found", "interconnection_id", edge.ID, "target_task_id", edge.TargetTaskID)
			continue
		}

		switch edge.Type {
		case types.InterconnectFeed:
			m.applyFeed(ctx, task, target, results)
		case types.InterconnectFilter:
			m.applyFilter(ctx, task, target, results)
		case types.InterconnectCombine:
			m.applyCombine(ctx, task, target, results)
			processed["combined_with"] = target.TaskID
		case types.InterconnectSequence:
			m.runAsync(target.TaskID)
		}
	}
	return processed, nil
}

func (m *Manager) applyFeed(ctx context.Context, source, target *types.MiningTask, results map[string]any) {
	searchParams := cloneMap(target.SearchParams)
	searchParams["input_from_task"] = map[string]any{
		"task_id": source.TaskID,
		"results": results,
	}
	if err := m.UpdateTask(ctx, target.TaskID, map[string]any{"search_params": searchParams}); err != nil {
		m.logger.Error("feed interconnection update failed", "target_task_id", target.TaskID, "error", err)
		return
	}
	m.runAsync(target.TaskID)
}

func (m *Manager) applyFilter(ctx context.Context, source, target *types.MiningTask, results map[string]any) {
	filtered := cloneMap(target.Results)
	filtered["filtered_by"] = map[string]any{
		"task_id":         source.TaskID,
		"filter_criteria": results,
	}
	if err := m.UpdateTask(ctx, target.TaskID, map[string]any{"results": filtered}); err != nil {
		m.logger.Error("filter interconnection update failed", "target_task_id", target.TaskID, "error", err)
	}
}

func (m *Manager) applyCombine(ctx context.Context, source, target *types.MiningTask, results map[string]any) {
	sourceCombined := cloneMap(results)
	sourceCombined["combined_with"] = target.TaskID
	if err := m.UpdateTask(ctx, source.TaskID, map[string]any{"results": sourceCombined}); err != nil {
		m.logger.Error("combine interconnection update failed", "task_id", source.TaskID, "error", err)
	}

	targetCombined := cloneMap(target.Results)
	targetCombined["combined_with"] = source.TaskID
	if err := m.UpdateTask(ctx, target.TaskID, map[string]any{"results": targetCombined}); err != nil {
		m.logger.Error("combine interconnection update failed", "task_id", target.TaskID, "error", err)
	}
}

// runAsync runs target's task detached from the triggering request's
// context, matching the original engine's fire-and-forget propagation.
func (m *Manager) runAsync(targetTaskID string) {
	go func() {
		if _, err := m.RunTask(context.Background(), targetTaskID); err != nil {
			m.logger.Warn("propagated task run failed", "task_id", targetTaskID, "error", err)
		}
	}()
}
