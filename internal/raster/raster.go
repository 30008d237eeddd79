// Package raster holds the RGBA8 pixel buffer passed between pipeline stages
// and the codec boundary that produces and consumes it.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
)

var (
	ErrDecode   = errors.New("decode image")
	ErrEncode   = errors.New("encode image")
	ErrGeometry = errors.New("invalid geometry")
	ErrContext  = errors.New("working buffer unavailable")
)

// maxPixels bounds a single allocation; 1<<28 pixels is a 1 GiB buffer.
const maxPixels = 1 << 28

// Raster is a dense, non-premultiplied RGBA8 buffer in row-major order.
// Each stage that returns a Raster hands ownership of it to the caller.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a zeroed (transparent black) raster.
func New(width, height int) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrContext, width, height)
	}
	if int64(width)*int64(height) > maxPixels || width > math.MaxInt32 || height > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrContext, width, height)
	}
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}, nil
}

// Validate reports ErrDecode when the buffer length does not match the dimensions.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrDecode)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: non-positive dimensions %dx%d", ErrDecode, r.Width, r.Height)
	}
	if want := r.Width * r.Height * 4; len(r.Pix) != want {
		return fmt.Errorf("%w: buffer has %d bytes, want %d for %dx%d", ErrDecode, len(r.Pix), want, r.Width, r.Height)
	}
	return nil
}

func (r *Raster) Clone() *Raster {
	pix := make([]uint8, len(r.Pix))
	copy(pix, r.Pix)
	return &Raster{Width: r.Width, Height: r.Height, Pix: pix}
}

func (r *Raster) Stride() int {
	return r.Width * 4
}

func (r *Raster) Offset(x, y int) int {
	return y*r.Width*4 + x*4
}

// NRGBA returns an *image.NRGBA sharing r's buffer. Writes through the view
// are visible in r.
func (r *Raster) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    r.Pix,
		Stride: r.Stride(),
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

// FromImage copies any image into a fresh raster anchored at the origin.
func FromImage(img image.Image) (*Raster, error) {
	b := img.Bounds()
	out, err := New(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < out.Height; y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride():(y+1)*out.Stride()], src.Pix[si:si+out.Stride()])
		}
		return out, nil
	}

	draw.Draw(out.NRGBA(), out.NRGBA().Bounds(), img, b.Min, draw.Src)
	return out, nil
}

// Equal reports whether a and b have identical dimensions and pixels.
func Equal(a, b *Raster) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Width != b.Width || a.Height != b.Height || len(a.Pix) != len(b.Pix) {
		return false
	}
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			return false
		}
	}
	return true
}
