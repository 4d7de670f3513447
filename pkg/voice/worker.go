// Package voice runs speech one utterance at a time from its own queue.
package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"printcast/pkg/logging"
	"printcast/pkg/tts"
	"printcast/pkg/worker"
)

// DefaultInterval is the poll period of the voice loop.
const DefaultInterval = 100 * time.Millisecond

// Worker owns the utterance FIFO and guarantees that at most one synthesis
// is in flight.
type Worker struct {
	speaker  tts.Speaker
	interval time.Duration

	mu      sync.Mutex
	pending []string
	cancel  context.CancelFunc
	loop    chan struct{}

	slot worker.Slot

	// OnDone is called after each utterance with its outcome. Set before Start.
	OnDone func(text string, err error)
}

// New creates a stopped worker.
func New(speaker tts.Speaker, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{speaker: speaker, interval: interval}
}

// Speak queues an utterance. It never blocks on synthesis.
func (w *Worker) Speak(text string) {
	w.mu.Lock()
	w.pending = append(w.pending, text)
	w.mu.Unlock()
}

// Start begins polling. Calling Start on a running worker does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		slog.Warn("Voice: start ignored, already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.loop = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		slog.Info("Voice worker started", "interval", w.interval)
		for {
			select {
			case <-loopCtx.Done():
				slog.Info("Voice worker stopped")
				return
			case <-ticker.C:
				w.poll(loopCtx)
			}
		}
	}()
}

// Stop ends polling and drops queued utterances. An utterance already being
// spoken runs to completion. Stop is safe to call more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.loop
	w.cancel, w.loop = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if n := w.Clear(); n > 0 {
		slog.Info("Voice: discarded queued utterances", "count", n)
	}
}

// Running reports whether the poll loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Pending returns the number of queued utterances.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Busy reports whether an utterance is being spoken.
func (w *Worker) Busy() bool {
	return w.slot.Busy()
}

// Current returns the most recent speech task, or nil.
func (w *Worker) Current() *worker.Task {
	return w.slot.Current()
}

// Clear drops queued utterances.
func (w *Worker) Clear() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.pending)
	w.pending = nil
	return n
}

// poll starts the next utterance if the slot is free.
func (w *Worker) poll(ctx context.Context) *worker.Task {
	if w.slot.Busy() {
		return nil
	}

	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	text := w.pending[0]
	w.pending = w.pending[1:]
	w.mu.Unlock()

	task, ok := w.slot.TryStart(context.WithoutCancel(ctx), "speak", func(ctx context.Context) error {
		logging.Trace("Voice: speaking", "text", text)
		err := w.speaker.Speak(ctx, text)
		if err != nil {
			slog.Error("Voice: synthesis failed", "text", text, "error", err)
		}
		if w.OnDone != nil {
			w.OnDone(text, err)
		}
		return err
	})
	if !ok {
		// Slot taken since the Busy check; keep the utterance at the head.
		w.mu.Lock()
		w.pending = append([]string{text}, w.pending...)
		w.mu.Unlock()
		return nil
	}
	return task
}
