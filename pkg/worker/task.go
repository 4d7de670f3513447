// Package worker runs blocking calls off the polling loops.
//
// A Task is the lifecycle record of one background execution. A Slot admits
// at most one running Task at a time; a Group tracks any number of them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// State is the lifecycle stage of a Task.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Func is the blocking work executed by a Task.
type Func func(ctx context.Context) error

// Task is the handle of one background execution.
type Task struct {
	name  string
	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func newTask(name string) *Task {
	return &Task{name: name, done: make(chan struct{})}
}

// Name returns the label given at launch.
func (t *Task) Name() string { return t.name }

// State returns the current lifecycle stage.
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the task has finished or failed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure, if any. Valid after Done is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task completes or ctx ends, and returns the task error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes fn, recording the outcome. onExit runs after the outcome is
// recorded and before Done is closed.
func (t *Task) run(ctx context.Context, fn Func, onExit func()) {
	t.state.Store(int32(StateRunning))

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Worker: task panicked", "task", t.name, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("task %s panicked: %v", t.name, r)
			}
		}()
		err = fn(ctx)
	}()

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	if err != nil {
		t.state.Store(int32(StateFailed))
	} else {
		t.state.Store(int32(StateFinished))
	}

	if onExit != nil {
		onExit()
	}
	close(t.done)
}
