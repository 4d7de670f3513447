package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"printcast/pkg/logging"
	"printcast/pkg/model"
	"printcast/pkg/router"
)

// DefaultInterval is the dispatch tick period.
const DefaultInterval = 500 * time.Millisecond

const (
	// outcomeBuffer bounds the outcomes waiting for observers; beyond it they are dropped.
	outcomeBuffer = 256
	// observerDrainTimeout bounds how long Stop waits for observers to catch up.
	observerDrainTimeout = 5 * time.Second
)

// Dispatcher routes a single job.
type Dispatcher interface {
	Dispatch(ctx context.Context, job model.Job) error
}

// Lifecycle is a loop the scheduler starts and stops with itself.
type Lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

// Observer receives the outcome of every dispatched collection.
type Observer interface {
	Dispatched(c model.Collection, records []model.DispatchRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c model.Collection, records []model.DispatchRecord)

func (f ObserverFunc) Dispatched(c model.Collection, records []model.DispatchRecord) {
	f(c, records)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, o)
	}
}

// Scheduler pops one collection per tick and routes its jobs.
type Scheduler struct {
	queue     *Queue
	router    Dispatcher
	voice     Lifecycle
	interval  time.Duration
	observers []Observer

	mu       sync.Mutex
	cancel   context.CancelFunc
	loop     chan struct{}
	outcomes chan outcome
	notified chan struct{}
}

// outcome is one dispatched collection on its way to the observers.
type outcome struct {
	c       model.Collection
	records []model.DispatchRecord
}

// New creates a stopped scheduler. voice may be nil.
func New(queue *Queue, r Dispatcher, voice Lifecycle, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:    queue,
		router:   r,
		voice:    voice,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue returns the underlying queue.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// Enqueue inserts c at index; negative appends. Safe before Start.
func (s *Scheduler) Enqueue(c model.Collection, index int) {
	s.queue.Insert(c, index)
}

// Start launches the dispatch loop and the voice loop. Observers run on a
// separate goroutine so a slow one never holds up the next tick. Calling
// Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		slog.Warn("Scheduler: start ignored, already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loop = done

	if s.voice != nil {
		s.voice.Start(loopCtx)
	}

	publish := s.notify
	if len(s.observers) > 0 {
		outcomes := make(chan outcome, outcomeBuffer)
		notified := make(chan struct{})
		s.outcomes, s.notified = outcomes, notified
		go func() {
			defer close(notified)
			for o := range outcomes {
				s.notify(o)
			}
		}()
		publish = func(o outcome) {
			select {
			case outcomes <- o:
			default:
				slog.Warn("Scheduler: observers behind, outcome dropped", "collection", o.c.ID)
			}
		}
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("Scheduler started", "interval", s.interval)
		for {
			select {
			case <-loopCtx.Done():
				slog.Info("Scheduler stopped")
				return
			case <-ticker.C:
				s.step(loopCtx, publish)
			}
		}
	}()
}

// Stop halts the dispatch loop and the voice loop and discards every
// collection still queued. A collection already being dispatched finishes
// first and its outcome still reaches the observers. Stop is safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loop
	outcomes, notified := s.outcomes, s.notified
	s.cancel, s.loop = nil, nil
	s.outcomes, s.notified = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		if s.voice != nil {
			s.voice.Stop()
		}
	}
	if outcomes != nil {
		close(outcomes)
		select {
		case <-notified:
		case <-time.After(observerDrainTimeout):
			slog.Warn("Scheduler: observers did not finish in time")
		}
	}
	if n := s.queue.Clear(); n > 0 {
		slog.Info("Scheduler: discarded queued collections", "count", n)
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// tick dispatches at most one collection and notifies the observers inline.
// It reports whether one was popped.
func (s *Scheduler) tick(ctx context.Context) bool {
	return s.step(ctx, s.notify)
}

func (s *Scheduler) step(ctx context.Context, publish func(outcome)) bool {
	c, ok := s.queue.Pop()
	if !ok {
		return false
	}
	logging.Trace("Scheduler: dispatching collection", "collection", c.ID, "jobs", len(c.Jobs), "remaining", s.queue.Len())
	publish(outcome{c: c, records: s.dispatchCollection(ctx, c)})
	return true
}

// notify runs every observer; a panicking observer does not stop the rest.
func (s *Scheduler) notify(o outcome) {
	for _, obs := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Scheduler: observer panicked", "collection", o.c.ID, "panic", r)
				}
			}()
			obs.Dispatched(o.c, o.records)
		}()
	}
}

func (s *Scheduler) dispatchCollection(ctx context.Context, c model.Collection) []model.DispatchRecord {
	records := make([]model.DispatchRecord, 0, len(c.Jobs))
	for i, job := range c.Jobs {
		err := s.dispatchJob(ctx, job)
		rec := model.DispatchRecord{
			CollectionID: c.ID,
			Position:     i,
			Kind:         model.KindOf(job),
			Err:          err,
			ErrorKind:    router.ErrorKind(err),
			At:           time.Now(),
		}
		if err != nil {
			slog.Error("Dispatch failed, job dropped",
				"collection", c.ID,
				"position", i,
				"kind", rec.Kind,
				"error_kind", rec.ErrorKind,
				"error", err)
		}
		records = append(records, rec)
	}
	return records
}

// dispatchJob turns a panic in the backend into a BackendDispatchError.
func (s *Scheduler) dispatchJob(ctx context.Context, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &router.BackendDispatchError{
				Op:   "dispatch",
				Kind: model.KindOf(job),
				Err:  fmt.Errorf("panic: %v", r),
			}
		}
	}()
	return s.router.Dispatch(ctx, job)
}
