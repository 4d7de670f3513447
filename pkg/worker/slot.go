package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot admits at most one running task.
type Slot struct {
	busy atomic.Bool

	mu      sync.Mutex
	current *Task
}

// TryStart claims the slot and runs fn on a new goroutine.
// It returns false without starting anything if a task is still active.
// The slot is claimed before the goroutine is spawned and released only after fn returns.
func (s *Slot) TryStart(ctx context.Context, name string, fn Func) (*Task, bool) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, false
	}

	t := newTask(name)
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	go t.run(ctx, fn, func() { s.busy.Store(false) })
	return t, true
}

// Busy reports whether a task currently occupies the slot.
func (s *Slot) Busy() bool {
	return s.busy.Load()
}

// Current returns the most recently started task, or nil.
func (s *Slot) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
