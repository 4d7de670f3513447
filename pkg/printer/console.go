package printer

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Console is a stand-in printer that writes lines to a writer.
// Images are reported as a marker line and optionally saved as PNG files.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	imageDir string
	current  Formatting
}

// NewConsole creates a console backend. A nil writer means stdout.
// imageDir, when set, is created if missing.
func NewConsole(out io.Writer, imageDir string) (*Console, error) {
	if out == nil {
		out = os.Stdout
	}
	if imageDir != "" {
		if err := os.MkdirAll(imageDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create image dir: %w", err)
		}
	}
	return &Console{out: out, imageDir: imageDir, current: DefaultFormatting()}, nil
}

// Configure records the formatting. A console cannot render it.
func (c *Console) Configure(f Formatting) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = f
	return nil
}

// Current returns the last applied formatting.
func (c *Console) Current() Formatting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Console) PrintLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, strings.TrimRight(text, "\r\n"))
	return err
}

func (c *Console) PrintImage(img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := img.Bounds()
	marker := fmt.Sprintf("[image %dx%d]", b.Dx(), b.Dy())

	if c.imageDir != "" {
		path := filepath.Join(c.imageDir, uuid.New().String()+".png")
		if err := savePNG(path, img); err != nil {
			return err
		}
		slog.Debug("Console: Saved image", "path", path)
		marker = fmt.Sprintf("[image %dx%d %s]", b.Dx(), b.Dy(), path)
	}

	_, err := fmt.Fprintln(c.out, marker)
	return err
}

// FlipsImages is false: nothing is rotated on a console.
func (c *Console) FlipsImages() bool { return false }

func (c *Console) Close() error { return nil }

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return f.Close()
}
