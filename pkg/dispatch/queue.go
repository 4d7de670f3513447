// Package dispatch holds the collection queue and the loop that drains it.
package dispatch

import (
	"log/slog"
	"sync"

	"printcast/pkg/model"
)

// Queue is an indexable FIFO of collections. Producers may insert from any
// goroutine; only the scheduler pops.
type Queue struct {
	mu    sync.Mutex
	items []model.Collection
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Insert places c at index. A negative index appends. An index past the end
// is clamped to the end.
func (q *Queue) Insert(c model.Collection, index int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if index > n {
		slog.Warn("Queue: index out of range, appending", "index", index, "length", n, "collection", c.ID)
		index = n
	}
	if index < 0 || index == n {
		q.items = append(q.items, c)
		return
	}
	q.items = append(q.items, model.Collection{})
	copy(q.items[index+1:], q.items[index:])
	q.items[index] = c
}

// Pop removes and returns the head.
func (q *Queue) Pop() (model.Collection, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Collection{}, false
	}
	c := q.items[0]
	q.items[0] = model.Collection{}
	q.items = q.items[1:]
	return c, true
}

// Len returns the number of queued collections.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued collections in dispatch order.
func (q *Queue) Snapshot() []model.Collection {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Collection, len(q.items))
	copy(out, q.items)
	return out
}

// Clear discards everything queued and returns how many collections were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
