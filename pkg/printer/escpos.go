package printer

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"sync"

	"golang.org/x/text/encoding/charmap"

	"printcast/pkg/imageutil"
)

const (
	esc = 0x1b
	gs  = 0x1d
)

// rasterChunkRows bounds a single GS v 0 block; many printers have small receive buffers.
const rasterChunkRows = 256

// Escpos drives an ESC/POS thermal printer over any byte stream (TCP socket, device file).
type Escpos struct {
	mu         sync.Mutex
	w          io.WriteCloser
	paperWidth int
}

// NewEscpos wraps w and resets the printer. paperWidth is in dots.
func NewEscpos(w io.WriteCloser, paperWidth int) (*Escpos, error) {
	p := &Escpos{w: w, paperWidth: paperWidth}
	if _, err := w.Write([]byte{esc, '@'}); err != nil {
		return nil, fmt.Errorf("failed to reset printer: %w", err)
	}
	return p, nil
}

// Configure sends the full formatting state. ESC/POS keeps it until changed.
func (p *Escpos) Configure(f Formatting) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.w.Write(encodeFormatting(f))
	return err
}

func (p *Escpos) PrintLine(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.w.Write(append(encodeText(text), '\n'))
	return err
}

// PrintImage scales img to the paper width and sends it as raster blocks.
func (p *Escpos) PrintImage(img image.Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	scaled := imageutil.ScaleToWidth(img, p.paperWidth)
	widthBytes, height, data := imageutil.Raster(scaled)

	for start := 0; start < height; start += rasterChunkRows {
		rows := height - start
		if rows > rasterChunkRows {
			rows = rasterChunkRows
		}
		block := data[start*widthBytes : (start+rows)*widthBytes]
		if _, err := p.w.Write(rasterHeader(widthBytes, rows)); err != nil {
			return err
		}
		if _, err := p.w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func (p *Escpos) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Close()
}

func encodeFormatting(f Formatting) []byte {
	var buf bytes.Buffer

	switch f.Align {
	case "center":
		buf.Write([]byte{esc, 'a', 1})
	case "right":
		buf.Write([]byte{esc, 'a', 2})
	default:
		buf.Write([]byte{esc, 'a', 0})
	}

	if f.Font == "b" {
		buf.Write([]byte{esc, 'M', 1})
	} else {
		buf.Write([]byte{esc, 'M', 0})
	}

	bold, underline := textTypeFlags(f.TextType)
	buf.Write([]byte{esc, 'E', boolByte(bold)})
	buf.Write([]byte{esc, '-', underline})

	buf.Write([]byte{gs, '!', sizeByte(f.Width, f.Height)})
	buf.Write([]byte{gs, 'B', boolByte(f.Invert)})
	buf.Write([]byte{gs, 'b', boolByte(f.Smooth)})
	buf.Write([]byte{esc, '{', boolByte(f.Flip)})

	// 9 keeps whatever density the printer is set to.
	if f.Density >= 0 && f.Density <= 8 {
		buf.Write([]byte{gs, '|', byte(f.Density)})
	}

	return buf.Bytes()
}

func textTypeFlags(textType string) (bold bool, underline byte) {
	switch textType {
	case "B":
		return true, 0
	case "U":
		return false, 1
	case "U2":
		return false, 2
	case "BU":
		return true, 1
	case "BU2":
		return true, 2
	default:
		return false, 0
	}
}

func sizeByte(width, height int) byte {
	clamp := func(v int) int {
		if v < 1 {
			return 1
		}
		if v > 8 {
			return 8
		}
		return v
	}
	return byte((clamp(width)-1)<<4 | (clamp(height) - 1))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func rasterHeader(widthBytes, rows int) []byte {
	return []byte{
		gs, 'v', '0', 0,
		byte(widthBytes & 0xff), byte(widthBytes >> 8),
		byte(rows & 0xff), byte(rows >> 8),
	}
}

// encodeText converts to code page 437, the power-on default of most ESC/POS printers.
// Characters without a mapping become '?'.
func encodeText(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r == '\r' || r == '\n' {
			continue
		}
		b, ok := charmap.CodePage437.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}
