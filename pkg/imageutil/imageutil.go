// Package imageutil prepares bitmaps for thermal printing.
package imageutil

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// luminanceThreshold splits gray levels into printed (dark) and blank dots.
const luminanceThreshold = 128

// Valid reports whether img is a usable bitmap: non-nil with a non-empty area.
// A typed nil image (e.g. a nil *image.RGBA) is not valid.
func Valid(img image.Image) (ok bool) {
	if img == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return !img.Bounds().Empty()
}

// Rotate180 returns a copy of img rotated by 180 degrees
// (horizontal mirror followed by a vertical flip). The result is anchored at (0,0).
func Rotate180(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// Flatten composites img over a solid background, removing transparency.
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// ScaleToWidth scales img down to maxWidth preserving aspect ratio.
// Images already narrow enough are returned unchanged; there is no upscaling.
func ScaleToWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img
	}

	newH := int(float64(h) * float64(maxWidth) / float64(w))
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Raster packs img into a 1-bit, MSB-first bitmap where a set bit is a printed dot.
// Rows are padded to whole bytes. It returns the row width in bytes, the height and the data.
func Raster(img image.Image) (widthBytes, height int, data []byte) {
	flat := Flatten(img, color.White)
	b := flat.Bounds()
	w := b.Dx()
	height = b.Dy()
	widthBytes = (w + 7) / 8
	data = make([]byte, widthBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(flat.At(x, y)).(color.Gray)
			if g.Y < luminanceThreshold {
				data[y*widthBytes+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}
	return widthBytes, height, data
}
