package printer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printcast/pkg/config"
)

type nopWriteCloser struct {
	bytes.Buffer
	closed bool
}

func (n *nopWriteCloser) Close() error {
	n.closed = true
	return nil
}

func TestFormatting_WithBoldIsScoped(t *testing.T) {
	f := DefaultFormatting()
	bold := f.WithBold()

	assert.Equal(t, "B", bold.TextType)
	assert.Equal(t, "normal", f.TextType, "original must be untouched")
	assert.Equal(t, f.Align, bold.Align)
}

func TestFormattingFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Printer.Formatting
	cfg.Flip = true
	cfg.Align = "center"

	f := FormattingFromConfig(cfg)
	assert.True(t, f.Flip)
	assert.Equal(t, "center", f.Align)
	assert.Equal(t, 9, f.Density)
}

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	dir := filepath.Join(t.TempDir(), "images")

	c, err := NewConsole(&out, dir)
	require.NoError(t, err)

	require.NoError(t, c.Configure(DefaultFormatting().WithBold()))
	assert.Equal(t, "B", c.Current().TextType)

	require.NoError(t, c.PrintLine("hello\n"))
	require.NoError(t, c.PrintImage(image.NewGray(image.Rect(0, 0, 3, 2))))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[image 3x2 "), lines[1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.False(t, NativeImageFlip(c))
}

func TestEscpos_Reset(t *testing.T) {
	w := &nopWriteCloser{}
	p, err := NewEscpos(w, 384)
	require.NoError(t, err)
	assert.Equal(t, []byte{esc, '@'}, w.Bytes())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.False(t, NativeImageFlip(p), "ESC/POS flip only affects text")
}

func TestEncodeFormatting(t *testing.T) {
	f := Formatting{
		Align:    "center",
		Font:     "b",
		TextType: "BU2",
		Width:    2,
		Height:   3,
		Density:  4,
		Invert:   true,
		Smooth:   false,
		Flip:     true,
	}
	want := []byte{
		esc, 'a', 1,
		esc, 'M', 1,
		esc, 'E', 1,
		esc, '-', 2,
		gs, '!', 0x12,
		gs, 'B', 1,
		gs, 'b', 0,
		esc, '{', 1,
		gs, '|', 4,
	}
	assert.Equal(t, want, encodeFormatting(f))

	// Density 9 leaves the printer alone.
	plain := encodeFormatting(DefaultFormatting())
	assert.False(t, bytes.Contains(plain, []byte{gs, '|'}))
}

func TestEscpos_PrintLine(t *testing.T) {
	w := &nopWriteCloser{}
	p, err := NewEscpos(w, 384)
	require.NoError(t, err)
	w.Reset()

	require.NoError(t, p.PrintLine("Grüße ☃"))
	assert.Equal(t, []byte{'G', 'r', 0x81, 0xe1, 'e', ' ', '?', '\n'}, w.Bytes())
}

func TestEscpos_PrintImage(t *testing.T) {
	w := &nopWriteCloser{}
	p, err := NewEscpos(w, 16)
	require.NoError(t, err)
	w.Reset()

	img := image.NewGray(image.Rect(0, 0, 32, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	require.NoError(t, p.PrintImage(img))

	out := w.Bytes()
	// Scaled to 16 dots wide -> 2 bytes per row, 150 rows, single block.
	require.GreaterOrEqual(t, len(out), 8)
	assert.Equal(t, []byte{gs, 'v', '0', 0, 2, 0, 150, 0}, out[:8])
	assert.Len(t, out, 8+2*150)
}

func TestEscpos_PrintImageChunks(t *testing.T) {
	w := &nopWriteCloser{}
	p, err := NewEscpos(w, 8)
	require.NoError(t, err)
	w.Reset()

	require.NoError(t, p.PrintImage(image.NewGray(image.Rect(0, 0, 8, 300))))
	out := w.Bytes()
	assert.Equal(t, rasterHeader(1, 256), out[:8])
	assert.Equal(t, rasterHeader(1, 44), out[8+256:8+256+8])
}

func TestOpen(t *testing.T) {
	t.Run("Console", func(t *testing.T) {
		b, err := Open(config.PrinterConfig{Backend: "console"}, io.Discard)
		require.NoError(t, err)
		_, ok := b.(*Console)
		assert.True(t, ok)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := Open(config.PrinterConfig{Backend: "laser"}, nil)
		var initErr *BackendInitializationError
		require.True(t, errors.As(err, &initErr))
		assert.Equal(t, "laser", initErr.Backend)
	})

	t.Run("NetworkMissingHost", func(t *testing.T) {
		_, err := Open(config.PrinterConfig{Backend: "network"}, nil)
		var initErr *BackendInitializationError
		assert.True(t, errors.As(err, &initErr))
	})

	t.Run("NetworkUnreachable", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().(*net.TCPAddr)
		ln.Close()

		_, err = Open(config.PrinterConfig{
			Backend: "network",
			Network: config.NetworkConfig{Host: "127.0.0.1", Port: addr.Port, Timeout: config.Duration(time.Second)},
		}, nil)
		var initErr *BackendInitializationError
		assert.True(t, errors.As(err, &initErr))
	})

	t.Run("Network", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		received := make(chan []byte, 1)
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			data, _ := io.ReadAll(conn)
			received <- data
		}()

		addr := ln.Addr().(*net.TCPAddr)
		b, err := Open(config.PrinterConfig{
			Backend:    "network",
			PaperWidth: 384,
			Network:    config.NetworkConfig{Host: "127.0.0.1", Port: addr.Port},
		}, nil)
		require.NoError(t, err)
		require.NoError(t, b.PrintLine("ok"))
		require.NoError(t, b.Close())

		select {
		case data := <-received:
			assert.Equal(t, []byte{esc, '@', 'o', 'k', '\n'}, data)
		case <-time.After(2 * time.Second):
			t.Fatal("printer never received data")
		}
	})

	t.Run("DeviceMissing", func(t *testing.T) {
		_, err := Open(config.PrinterConfig{
			Backend: "device",
			Device:  config.DeviceConfig{Path: filepath.Join(t.TempDir(), "nope", "lp0")},
		}, nil)
		var initErr *BackendInitializationError
		assert.True(t, errors.As(err, &initErr))
	})

	t.Run("Device", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lp0")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		b, err := Open(config.PrinterConfig{Backend: "device", PaperWidth: 384, Device: config.DeviceConfig{Path: path}}, nil)
		require.NoError(t, err)
		require.NoError(t, b.PrintLine("x"))
		require.NoError(t, b.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte{esc, '@', 'x', '\n'}, data)
	})
}
