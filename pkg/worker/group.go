package worker

import (
	"context"
	"sync"
)

// Group launches fire-and-forget tasks and can wait for all of them.
type Group struct {
	wg     sync.WaitGroup
	active sync.Map // *Task -> struct{}
}

// Go runs fn on a new goroutine and returns its handle immediately.
func (g *Group) Go(ctx context.Context, name string, fn Func) *Task {
	t := newTask(name)
	g.wg.Add(1)
	g.active.Store(t, struct{}{})
	go t.run(ctx, fn, func() {
		g.active.Delete(t)
		g.wg.Done()
	})
	return t
}

// Active returns the number of tasks that have not completed yet.
func (g *Group) Active() int {
	n := 0
	g.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Wait blocks until every launched task has completed.
func (g *Group) Wait() {
	g.wg.Wait()
}
