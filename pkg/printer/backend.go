// Package printer provides the output backends that physically render printed jobs.
package printer

import (
	"fmt"
	"image"

	"printcast/pkg/config"
)

// Formatting is the record applied to the backend before every printed job.
type Formatting struct {
	Align    string
	Font     string
	TextType string
	Width    int
	Height   int
	Density  int
	Invert   bool
	Smooth   bool
	Flip     bool
}

// DefaultFormatting matches a freshly initialized printer.
func DefaultFormatting() Formatting {
	return Formatting{
		Align:    "left",
		Font:     "a",
		TextType: "normal",
		Width:    1,
		Height:   1,
		Density:  9,
	}
}

// FormattingFromConfig converts the configured formatting.
func FormattingFromConfig(c config.FormattingConfig) Formatting {
	return Formatting{
		Align:    c.Align,
		Font:     c.Font,
		TextType: c.TextType,
		Width:    c.Width,
		Height:   c.Height,
		Density:  c.Density,
		Invert:   c.Invert,
		Smooth:   c.Smooth,
		Flip:     c.Flip,
	}
}

// WithBold returns a copy with the bold text type. The receiver is not modified.
func (f Formatting) WithBold() Formatting {
	f.TextType = "B"
	return f
}

// Backend is the output device. Calls are synchronous and may fail on device errors.
type Backend interface {
	Configure(f Formatting) error
	PrintLine(text string) error
	PrintImage(img image.Image) error
	Close() error
}

// ImageFlipper is implemented by backends whose flip setting also rotates images.
type ImageFlipper interface {
	FlipsImages() bool
}

// NativeImageFlip reports whether b rotates images by itself when Flip is set.
func NativeImageFlip(b Backend) bool {
	f, ok := b.(ImageFlipper)
	return ok && f.FlipsImages()
}

// BackendInitializationError reports a failure to construct or connect a backend.
// It is fatal and never retried.
type BackendInitializationError struct {
	Backend string
	Err     error
}

func (e *BackendInitializationError) Error() string {
	return fmt.Sprintf("printer backend %q initialization failed: %v", e.Backend, e.Err)
}

func (e *BackendInitializationError) Unwrap() error {
	return e.Err
}
