package types

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority controls worker-pool scheduling order; a higher value runs
// before a lower one within the priority queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskStatus is the lifecycle state of a TaskDefinition as tracked by the
// worker pool / monitor.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskFunc is the runnable body of a task. args/kwargs are positional and
// keyed parameters respectively; the return value becomes
// TaskExecution.Result.
type TaskFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// TaskDefinition describes one unit of work submitted to the worker pool.
type TaskDefinition struct {
	ID           string
	Name         string
	Func         TaskFunc
	Args         []any
	Kwargs       map[string]any
	Priority     Priority
	Dependencies map[string]struct{}
	MaxRetries   int
	RetryDelay   time.Duration
	Timeout      time.Duration
	Schedule     string // optional cron-5 expression
	Enabled      bool
	Tags         []string
	Description  string

	// EnqueuedAt orders tasks FIFO within the same priority level.
	EnqueuedAt time.Time
}

// NewTaskDefinition constructs a TaskDefinition with a fresh id and sane
// defaults. Timeout=0 is rejected by the worker pool at Submit (spec
// boundary behavior), not here, so callers can still build the zero value
// for tests.
func NewTaskDefinition(name string, fn TaskFunc) *TaskDefinition {
	return &TaskDefinition{
		ID:           uuid.NewString(),
		Name:         name,
		Func:         fn,
		Dependencies: make(map[string]struct{}),
		Priority:     PriorityNormal,
		MaxRetries:   3,
		RetryDelay:   2 * time.Second,
		Enabled:      true,
	}
}

// DependsOn returns the dependency ids as a sorted-independent slice.
func (t *TaskDefinition) DependsOn() []string {
	ids := make([]string, 0, len(t.Dependencies))
	for id := range t.Dependencies {
		ids = append(ids, id)
	}
	return ids
}

// TaskExecution records a single attempt at running a TaskDefinition.
// Terminal executions (Status != TaskRunning/TaskPending) never mutate.
type TaskExecution struct {
	ExecutionID   string
	TaskID        string
	StartTime     time.Time
	EndTime       time.Time
	Status        TaskStatus
	Result        any
	Error         error
	ExecutionTime time.Duration
}

// NewTaskExecution starts a new execution record for taskID.
func NewTaskExecution(taskID string) *TaskExecution {
	return &TaskExecution{
		ExecutionID: uuid.NewString(),
		TaskID:      taskID,
		StartTime:   time.Now(),
		Status:      TaskRunning,
	}
}

// Finish marks the execution terminal. It is a no-op if already terminal,
// preserving the "terminal executions never mutate" invariant.
func (e *TaskExecution) Finish(status TaskStatus, result any, err error) {
	if e.isTerminal() {
		return
	}
	e.EndTime = time.Now()
	if e.EndTime.Before(e.StartTime) {
		e.EndTime = e.StartTime
	}
	e.Status = status
	e.Result = result
	e.Error = err
	e.ExecutionTime = e.EndTime.Sub(e.StartTime)
}

func (e *TaskExecution) isTerminal() bool {
	switch e.Status {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the execution has reached a final status.
func (e *TaskExecution) IsTerminal() bool { return e.isTerminal() }

// ErrCycleDetected is returned when a dependency batch contains a cycle.
type ErrCycleDetected struct {
	Cycle []string
}

func (e *ErrCycleDetected) Error() string {
	return fmt.Sprintf("cycle detected in task dependencies: %v", e.Cycle)
}

// ErrDependencyUnsatisfied is returned when a task's dependency has not
// completed successfully.
type ErrDependencyUnsatisfied struct {
	TaskID  string
	Missing []string
}

func (e *ErrDependencyUnsatisfied) Error() string {
	return fmt.Sprintf("task %s has unsatisfied dependencies: %v", e.TaskID, e.Missing)
}
