package taskengine

import (
	"container/heap"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// queueItem wraps a submitted task with heap bookkeeping. Ordering is
// (priority desc, enqueue-time asc) per spec.md §4.8.
type queueItem struct {
	task  *types.TaskDefinition
	index int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].task.Priority != pq[j].task.Priority {
		return pq[i].task.Priority > pq[j].task.Priority
	}
	return pq[i].task.EnqueuedAt.Before(pq[j].task.EnqueuedAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// taskQueue is a thread-safe priority queue of TaskDefinitions.
type taskQueue struct {
	pq priorityQueue
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{pq: make(priorityQueue, 0, 256)}
	heap.Init(&q.pq)
	return q
}

func (q *taskQueue) push(t *types.TaskDefinition) {
	heap.Push(&q.pq, &queueItem{task: t})
}

func (q *taskQueue) pop() *types.TaskDefinition {
	if q.pq.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.pq).(*queueItem)
	return item.task
}

func (q *taskQueue) len() int { return q.pq.Len() }

// removePending removes task id from the queue if it is still pending,
// reporting whether it found (and removed) it. Used by Cancel, which
// spec.md §4.8 only honors while the task is PENDING.
func (q *taskQueue) removePending(id string) bool {
	for i, item := range q.pq {
		if item.task.ID == id {
			heap.Remove(&q.pq, i)
			return true
		}
	}
	return false
}
