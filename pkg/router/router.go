// Package router sends each job to the handler for its kind.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"printcast/pkg/audio"
	"printcast/pkg/imageutil"
	"printcast/pkg/model"
	"printcast/pkg/printer"
	"printcast/pkg/tts"
	"printcast/pkg/worker"
)

// VoiceQueue accepts utterances without blocking.
type VoiceQueue interface {
	Speak(text string)
}

// Router applies formatting and forwards jobs to the backend, the voice
// queue or the audio player. Dispatch must be called from one goroutine.
type Router struct {
	backend    printer.Backend
	formatting printer.Formatting
	speech     VoiceQueue
	player     audio.Player
	playback   worker.Group
}

// New creates a router. player may be nil, in which case sound jobs are
// validated but not played.
func New(backend printer.Backend, formatting printer.Formatting, speech VoiceQueue, player audio.Player) *Router {
	return &Router{
		backend:    backend,
		formatting: formatting,
		speech:     speech,
		player:     player,
	}
}

// Formatting returns the base formatting record.
func (r *Router) Formatting() printer.Formatting {
	return r.formatting
}

// Dispatch handles one job. Text and image jobs complete synchronously;
// voice and sound jobs are handed off and return immediately.
func (r *Router) Dispatch(ctx context.Context, job model.Job) error {
	switch j := job.(type) {
	case model.Text:
		return r.text(j)
	case *model.Text:
		if j != nil {
			return r.text(*j)
		}
	case model.Image:
		return r.image(j)
	case *model.Image:
		if j != nil {
			return r.image(*j)
		}
	case model.Voice:
		return r.voice(j)
	case *model.Voice:
		if j != nil {
			return r.voice(*j)
		}
	case model.Sound:
		return r.sound(ctx, j)
	case *model.Sound:
		if j != nil {
			return r.sound(ctx, *j)
		}
	}
	return &ItemTypeError{Type: fmt.Sprintf("%T", job)}
}

// Wait blocks until all sound playbacks started by the router have ended.
func (r *Router) Wait() {
	r.playback.Wait()
}

// ActivePlayback returns the number of sounds still playing.
func (r *Router) ActivePlayback() int {
	return r.playback.Active()
}

func (r *Router) text(j model.Text) error {
	f := r.formatting
	if j.Bold {
		f = f.WithBold()
	}
	if err := r.backend.Configure(f); err != nil {
		return &BackendDispatchError{Op: "configure", Kind: model.KindText, Err: err}
	}
	for _, line := range strings.Split(j.Content, "\n") {
		if err := r.backend.PrintLine(line); err != nil {
			return &BackendDispatchError{Op: "print_line", Kind: model.KindText, Err: err}
		}
	}
	return nil
}

func (r *Router) blank() error {
	return r.text(model.Text{})
}

func (r *Router) image(j model.Image) error {
	if j.Bitmap == nil {
		return &ImageContentError{Reason: "no bitmap"}
	}
	if !imageutil.Valid(j.Bitmap) {
		return &ImageContentError{Reason: "empty or unreadable bitmap"}
	}

	img := j.Bitmap
	if r.formatting.Flip && !printer.NativeImageFlip(r.backend) {
		img = imageutil.Rotate180(img)
	}

	if err := r.backend.Configure(r.formatting); err != nil {
		return &BackendDispatchError{Op: "configure", Kind: model.KindImage, Err: err}
	}
	if j.Padding {
		if err := r.blank(); err != nil {
			return err
		}
	}
	if err := r.backend.PrintImage(img); err != nil {
		return &BackendDispatchError{Op: "print_image", Kind: model.KindImage, Err: err}
	}
	// Spacer so following output does not overprint the image.
	if err := r.blank(); err != nil {
		return err
	}
	if j.Padding {
		return r.blank()
	}
	return nil
}

func (r *Router) voice(j model.Voice) error {
	r.speech.Speak(tts.Normalize(j.Content))
	return nil
}

func (r *Router) sound(ctx context.Context, j model.Sound) error {
	if _, err := os.Stat(j.Path); err != nil {
		return &MissingFileError{Path: j.Path, Err: err}
	}
	if r.player == nil {
		slog.Debug("Router: sound disabled, skipping", "path", j.Path)
		return nil
	}

	path := j.Path
	r.playback.Go(context.WithoutCancel(ctx), "sound:"+path, func(ctx context.Context) error {
		if err := r.player.Play(ctx, path); err != nil {
			slog.Error("Router: sound playback failed", "path", path, "error", err)
			return err
		}
		return nil
	})
	return nil
}
