package swarm

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// Runnable is a unit of work run by the scheduler, either once as a task or
// periodically as a loop.
type Runnable interface {
	Run()
}

// scheduledTask is a Runnable waiting in the queue.
type scheduledTask struct {
	executeAt time.Time
	// seq breaks ties between tasks due at the same instant
	seq   uint64
	owner *Bot
	task  Runnable

	cancelled atomic.Bool
	index     int
}

// before reports whether t must run before o.
func (t *scheduledTask) before(o *scheduledTask) bool {
	if t.executeAt.Equal(o.executeAt) {
		return t.seq < o.seq
	}
	return t.executeAt.Before(o.executeAt)
}

// taskHeap implements heap.Interface ordered by due time.
type taskHeap []*scheduledTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *taskHeap) Push(x any) {
	t := x.(*scheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old) - 1
	t := old[n]
	old[n] = nil
	t.index = -1
	*h = old[:n]
	return t
}

// pruneThreshold is the number of cancelled tasks popped in one pass above
// which the rest of the heap is swept.
const pruneThreshold = 50

// taskQueue is a concurrency safe priority queue of scheduled tasks. Every
// Push signals the channel returned by Notify.
type taskQueue struct {
	mu     sync.Mutex
	tasks  taskHeap
	seq    uint64
	pushed chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make(taskHeap, 0, 64),
		pushed: make(chan struct{}, 1),
	}
}

// Push queues t.
func (q *taskQueue) Push(t *scheduledTask) {
	q.mu.Lock()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.tasks, t)
	q.mu.Unlock()

	select {
	case q.pushed <- struct{}{}:
	default:
	}
}

// PopDue removes every task due at now and returns those not cancelled,
// earliest first.
func (q *taskQueue) PopDue(now time.Time) []*scheduledTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*scheduledTask
	skipped := 0
	for q.tasks.Len() > 0 && !q.tasks[0].executeAt.After(now) {
		t := heap.Pop(&q.tasks).(*scheduledTask)
		if t.cancelled.Load() {
			skipped++
			continue
		}
		due = append(due, t)
	}
	if skipped > pruneThreshold {
		q.prune()
	}
	return due
}

// prune drops cancelled tasks that are not due yet. The caller holds mu.
func (q *taskQueue) prune() {
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if !t.cancelled.Load() {
			kept = append(kept, t)
		}
	}
	clear(q.tasks[len(kept):])
	q.tasks = kept
	for i, t := range q.tasks {
		t.index = i
	}
	heap.Init(&q.tasks)
}

// Peek returns when the earliest task is due.
func (q *taskQueue) Peek() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return time.Time{}, false
	}
	return q.tasks[0].executeAt, true
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Clear drops every queued task.
func (q *taskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.tasks)
	q.tasks = q.tasks[:0]
}

func (q *taskQueue) Notify() <-chan struct{} {
	return q.pushed
}
