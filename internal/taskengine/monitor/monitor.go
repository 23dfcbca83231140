// Package monitor implements the task monitor (spec C9): a per-task
// registry of status/progress/history plus rolling metrics and alert
// callbacks for long-running tasks, high failure rates, and resource
// pressure.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// AlertFunc receives an alert kind and a free-form payload. It must not
// block; slow subscribers should hand off to their own queue.
type AlertFunc func(kind string, payload map[string]any)

// HistoryEntry is one completed (or cancelled) execution recorded
// against a task.
type HistoryEntry struct {
	ExecutionID   string
	Status        types.TaskStatus
	ExecutionTime time.Duration
	RecordedAt    time.Time
	Error         error
}

// Record is the registry entry for one monitored task.
type Record struct {
	TaskID      string
	Type        string
	Description string
	Metadata    map[string]any

	Status      types.TaskStatus
	Progress    float64
	StartedAt   time.Time
	CompletedAt time.Time
	Result      any
	Error       error

	History []HistoryEntry
}

// RollingMetrics summarizes a task's History per spec.md §4.9.
type RollingMetrics struct {
	AvgExecutionTime  time.Duration
	SuccessRate       float64
	FailureRate       float64
	CancellationRate  float64
	Throughput        float64 // history entries per second of span
	HistoryCount      int
}

// Monitor is the spec C9 task monitor.
type Monitor struct {
	logger             *slog.Logger
	historyLimit       int
	failureRateAlertAt float64

	mu      sync.RWMutex
	records map[string]*Record

	alertFns []AlertFunc
}

// New constructs a Monitor. historyLimit bounds each task's retained
// History; failureRateAlertAt is the rolling failure-rate threshold
// (0..1) that triggers a high_failure_rate alert.
func New(logger *slog.Logger, historyLimit int, failureRateAlertAt float64) *Monitor {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Monitor{
		logger:             logger.With("component", "task_monitor"),
		historyLimit:       historyLimit,
		failureRateAlertAt: failureRateAlertAt,
		records:            make(map[string]*Record),
	}
}

// OnAlert registers a callback invoked whenever an alert fires.
func (m *Monitor) OnAlert(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertFns = append(m.alertFns, fn)
}

// Register creates (or resets) a task's monitor entry in pending state.
func (m *Monitor) Register(taskID, taskType, description string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[taskID] = &Record{
		TaskID:      taskID,
		Type:        taskType,
		Description: description,
		Metadata:    metadata,
		Status:      types.TaskPending,
	}
}

// SetProgress updates a task's fractional progress, clamped to [0,1].
func (m *Monitor) SetProgress(taskID string, progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[taskID]
	if !ok {
		return
	}
	r.Progress = progress
}

// Start marks a task running.
func (m *Monitor) Start(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[taskID]
	if !ok {
		return
	}
	r.Status = types.TaskRunning
	r.StartedAt = time.Now()
}

// Get returns a copy-free snapshot pointer; callers must not mutate it.
func (m *Monitor) Get(taskID string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[taskID]
	return r, ok
}

// RecordExecution appends exec to taskID's bounded history, updates the
// task's terminal status/result/error, recomputes rolling metrics, and
// fires long_running_task / high_failure_rate alerts as warranted.
func (m *Monitor) RecordExecution(taskID string, exec *types.TaskExecution) {
	m.mu.Lock()
	r, ok := m.records[taskID]
	if !ok {
		r = &Record{TaskID: taskID}
		m.records[taskID] = r
	}

	r.Status = exec.Status
	r.Result = exec.Result
	r.Error = exec.Error
	r.CompletedAt = exec.EndTime
	if exec.IsTerminal() {
		r.Progress = 1
	}

	entry := HistoryEntry{
		ExecutionID:   exec.ExecutionID,
		Status:        exec.Status,
		ExecutionTime: exec.ExecutionTime,
		RecordedAt:    time.Now(),
		Error:         exec.Error,
	}
	r.History = append(r.History, entry)
	if len(r.History) > m.historyLimit {
		r.History = r.History[len(r.History)-m.historyLimit:]
	}

	metrics := rollingMetrics(r.History)
	m.mu.Unlock()

	if metrics.AvgExecutionTime > 0 && exec.ExecutionTime > 2*metrics.AvgExecutionTime {
		m.fireAlert("long_running_task", map[string]any{
			"task_id":        taskID,
			"execution_time": exec.ExecutionTime,
			"rolling_avg":    metrics.AvgExecutionTime,
		})
	}
	if m.failureRateAlertAt > 0 && metrics.FailureRate > m.failureRateAlertAt {
		m.fireAlert("high_failure_rate", map[string]any{
			"task_id":      taskID,
			"failure_rate": metrics.FailureRate,
			"threshold":    m.failureRateAlertAt,
		})
	}
}

// Metrics returns taskID's rolling metrics.
func (m *Monitor) Metrics(taskID string) (RollingMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[taskID]
	if !ok {
		return RollingMetrics{}, false
	}
	return rollingMetrics(r.History), true
}

// CleanupCompleted removes every terminal record whose CompletedAt is
// older than maxAge, returning the number removed.
func (m *Monitor) CleanupCompleted(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, r := range m.records {
		if !terminalStatus(r.Status) {
			continue
		}
		if r.CompletedAt.IsZero() || r.CompletedAt.After(cutoff) {
			continue
		}
		delete(m.records, id)
		removed++
	}
	return removed
}

func terminalStatus(s types.TaskStatus) bool {
	switch s {
	case types.TaskCompleted, types.TaskFailed, types.TaskCancelled:
		return true
	default:
		return false
	}
}

// ResourceAlert fires a high_cpu_usage / high_memory_usage /
// high_disk_usage alert; wired to C1's threshold callbacks by the
// caller that owns both collaborators.
func (m *Monitor) ResourceAlert(kind string, value, threshold float64) {
	m.fireAlert(kind, map[string]any{"value": value, "threshold": threshold})
}

func (m *Monitor) fireAlert(kind string, payload map[string]any) {
	m.mu.RLock()
	fns := append([]AlertFunc(nil), m.alertFns...)
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(kind, payload)
	}
}

func rollingMetrics(history []HistoryEntry) RollingMetrics {
	if len(history) == 0 {
		return RollingMetrics{}
	}

	var total time.Duration
	var completed, failed, cancelled int
	for _, h := range history {
		total += h.ExecutionTime
		switch h.Status {
		case types.TaskCompleted:
			completed++
		case types.TaskFailed:
			failed++
		case types.TaskCancelled:
			cancelled++
		}
	}
	n := float64(len(history))

	span := history[len(history)-1].RecordedAt.Sub(history[0].RecordedAt).Seconds()
	var throughput float64
	if span > 0 {
		throughput = n / span
	}

	return RollingMetrics{
		AvgExecutionTime: total / time.Duration(len(history)),
		SuccessRate:      float64(completed) / n,
		FailureRate:      float64(failed) / n,
		CancellationRate: float64(cancelled) / n,
		Throughput:       throughput,
		HistoryCount:     len(history),
	}
}
