// Package taskengine implements the dynamically sized, priority-queued
// worker pool (spec C8): tasks are dequeued highest-priority-first,
// retried with a linear backoff, and the pool resizes itself every
// adjust-interval from C1's resource samples.
package taskengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// ResourceProbe is the C1 collaborator used for dynamic sizing.
type ResourceProbe interface {
	OptimalWorkers(min, max int) int
}

// EventPublisher is the C13 collaborator notified of lifecycle events.
// Implementations must not block the caller.
type EventPublisher interface {
	Publish(eventType string, payload map[string]any)
}

// Config controls pool sizing and the resize cadence.
type Config struct {
	MinWorkers     int
	MaxWorkers     int
	AdjustInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 2
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.AdjustInterval <= 0 {
		c.AdjustInterval = 10 * time.Second
	}
	return c
}

// Pool is the spec C8 worker pool.
type Pool struct {
	logger    *slog.Logger
	probe     ResourceProbe
	publisher EventPublisher
	cfg       Config

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *taskQueue
	pending  map[string]*types.TaskDefinition
	running  map[string]context.CancelFunc
	closed   bool
	desired  int
	spawned  int

	executions sync.Map // task id -> *types.TaskExecution (latest)

	metrics *Metrics
	wg      sync.WaitGroup
}

// New constructs a Pool. probe and publisher may be nil — a nil probe
// pins the pool at MinWorkers; a nil publisher silently drops events.
func New(logger *slog.Logger, probe ResourceProbe, publisher EventPublisher, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		logger:    logger.With("component", "taskengine"),
		probe:     probe,
		publisher: publisher,
		cfg:       cfg,
		queue:     newTaskQueue(),
		pending:   make(map[string]*types.TaskDefinition),
		running:   make(map[string]context.CancelFunc),
		desired:   cfg.MinWorkers,
	}
	p.cond = sync.NewCond(&p.mu)
	p.metrics = NewMetrics(func() int {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.queue.len()
	})
	return p
}

// Metrics returns the pool's prometheus.Collector-compatible metrics.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// Start launches the initial worker set and the dynamic-sizing loop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	for i := 0; i < p.desired; i++ {
		p.spawnWorkerLocked(ctx)
	}
	p.mu.Unlock()

	go p.resizeLoop(ctx)
}

// Submit enqueues a task, rejecting zero-timeout definitions (spec.md's
// boundary-behavior note for C8/C10).
func (p *Pool) Submit(t *types.TaskDefinition) (string, error) {
	if t.Timeout <= 0 {
		return "", types.ErrZeroTimeout
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if !t.Enabled {
		return t.ID, nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", types.ErrNotRunning
	}
	p.pending[t.ID] = t
	p.queue.push(t)
	p.cond.Signal()
	p.mu.Unlock()

	p.metrics.recordSubmitted()
	p.publish("task_started", map[string]any{"task_id": t.ID, "name": t.Name, "phase": "submitted"})
	return t.ID, nil
}

// Cancel succeeds only while the task is still PENDING in the queue
// (spec.md §4.8); an in-flight task cannot be interrupted mid-call.
func (p *Pool) Cancel(id string) error {
	p.mu.Lock()
	if _, ok := p.pending[id]; !ok {
		p.mu.Unlock()
		return types.ErrTaskNotActive
	}
	removed := p.queue.removePending(id)
	delete(p.pending, id)
	p.mu.Unlock()

	if !removed {
		return types.ErrTaskNotActive
	}

	exec := types.NewTaskExecution(id)
	exec.Finish(types.TaskCancelled, nil, nil)
	p.executions.Store(id, exec)
	p.metrics.recordCancelled()
	p.publish("task_cancelled", map[string]any{"task_id": id})
	return nil
}

// Status returns the most recent execution record for id, if any.
func (p *Pool) Status(id string) (*types.TaskExecution, bool) {
	v, ok := p.executions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*types.TaskExecution), true
}

// Forget discards id's stored execution record, if any. Used by callers
// implementing their own retention policy over terminal executions.
func (p *Pool) Forget(id string) {
	p.executions.Delete(id)
}

// Shutdown stops accepting new work, wakes blocked workers, and waits
// for in-flight tasks to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) publish(eventType string, payload map[string]any) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(eventType, payload)
}

// spawnWorkerLocked starts one worker goroutine. Caller holds p.mu.
func (p *Pool) spawnWorkerLocked(ctx context.Context) {
	p.spawned++
	p.wg.Add(1)
	go p.worker(ctx)
}

// resizeLoop asks the probe for an optimal worker count every
// AdjustInterval and spawns more workers immediately; shrinking is
// passive (idle workers above desired exit on their own, see worker).
func (p *Pool) resizeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.AdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.resizeOnce()
		}
	}
}

func (p *Pool) resizeOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	optimal := p.cfg.MinWorkers
	if p.probe != nil {
		optimal = p.probe.OptimalWorkers(p.cfg.MinWorkers, p.cfg.MaxWorkers)
	}

	queueLen := p.queue.len()
	target := optimal
	if queueLen >= optimal {
		target = optimal + queueLen/2
	}
	if target < p.cfg.MinWorkers {
		target = p.cfg.MinWorkers
	}
	if target > p.cfg.MaxWorkers {
		target = p.cfg.MaxWorkers
	}

	p.desired = target
	for p.spawned < target {
		p.spawnWorkerLocked(context.Background())
	}
}

// worker is a single pool goroutine: pop, run under timeout, retry on
// failure, update bookkeeping.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		task := p.waitForTask()
		if task == nil {
			p.mu.Lock()
			p.spawned--
			p.mu.Unlock()
			return
		}

		if p.exitIfSurplus() {
			// Re-enqueue the task we already popped before exiting.
			p.mu.Lock()
			p.pending[task.ID] = task
			p.queue.push(task)
			p.cond.Signal()
			p.spawned--
			p.mu.Unlock()
			return
		}

		p.runOnce(ctx, task)
	}
}

// waitForTask blocks on the condition variable until a task is
// available or the pool is closed and drained.
func (p *Pool) waitForTask() *types.TaskDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queue.len() == 0 {
		if p.closed {
			return nil
		}
		p.cond.Wait()
	}
	t := p.queue.pop()
	if t != nil {
		delete(p.pending, t.ID)
	}
	return t
}

// exitIfSurplus reports whether this worker should exit because the
// pool has more spawned workers than currently desired (passive
// shrink).
func (p *Pool) exitIfSurplus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned > p.desired
}

func (p *Pool) runOnce(ctx context.Context, task *types.TaskDefinition) {
	p.metrics.addActiveWorker(1)
	defer p.metrics.addActiveWorker(-1)

	for attempt := 0; ; attempt++ {
		exec := types.NewTaskExecution(task.ID)
		p.executions.Store(task.ID, exec)
		p.publish("task_progress", map[string]any{"task_id": task.ID, "attempt": attempt})

		runCtx, cancel := context.WithTimeout(ctx, task.Timeout)
		result, err := p.invoke(runCtx, task)
		cancel()

		if err == nil {
			exec.Finish(types.TaskCompleted, result, nil)
			p.executions.Store(task.ID, exec)
			p.metrics.recordFinished("completed", exec.ExecutionTime)
			p.publish("task_completed", map[string]any{"task_id": task.ID})
			return
		}

		if attempt < task.MaxRetries {
			exec.Finish(types.TaskFailed, nil, err)
			p.executions.Store(task.ID, exec)
			delay := task.RetryDelay
			if delay <= 0 {
				delay = time.Second
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		exec.Finish(types.TaskFailed, nil, err)
		p.executions.Store(task.ID, exec)
		p.metrics.recordFinished("failed", exec.ExecutionTime)
		p.publish("task_failed", map[string]any{"task_id": task.ID, "error": err.Error()})
		return
	}
}

func (p *Pool) invoke(ctx context.Context, task *types.TaskDefinition) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Func(ctx, task.Args, task.Kwargs)
}
