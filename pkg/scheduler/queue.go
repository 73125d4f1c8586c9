package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a cancellable delayed unit of work.
type Task struct {
	due   time.Time
	seq   uint64
	fn    func()
	index int
	q     *taskQueue
}

// Cancel removes the task if it has not run yet. It reports whether the task
// was still pending.
func (t *Task) Cancel() bool {
	if t == nil || t.q == nil {
		return false
	}
	return t.q.remove(t)
}

// Due returns the time the task is scheduled to run.
func (t *Task) Due() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.due
}

// taskQueue is a min-heap of tasks ordered by due time then insertion order.
type taskQueue struct {
	mu    sync.Mutex
	items taskHeap
	seq   uint64
}

func (q *taskQueue) push(due time.Time, fn func()) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t := &Task{due: due, seq: q.seq, fn: fn, q: q}
	heap.Push(&q.items, t)
	return t
}

func (q *taskQueue) remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.index < 0 || t.index >= len(q.items) || q.items[t.index] != t {
		return false
	}
	heap.Remove(&q.items, t.index)
	return true
}

// popDue removes and returns the earliest task due at or before now.
func (q *taskQueue) popDue(now time.Time) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].due.After(now) {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

// next returns the due time of the earliest task.
func (q *taskQueue) next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].due, true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
