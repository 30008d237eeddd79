package compose

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/mockupflow/internal/raster"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Layer is one populated design slot.
type Layer struct {
	Image     *raster.Raster
	Transform LayerTransform
}

// Request is a single composition: the base raster, its slots (nil entries are
// empty) and the viewport the transforms were captured in.
type Request struct {
	Base     *raster.Raster
	Layers   []*Layer
	Viewport Viewport
}

// Composite paints every populated slot onto a copy of the base, lowest index
// first. Neither the base nor the layer images are modified.
func Composite(ctx context.Context, req Request) (*raster.Raster, error) {
	if err := req.Base.Validate(); err != nil {
		return nil, fmt.Errorf("base image: %w", err)
	}

	out := req.Base.Clone()
	dst := out.NRGBA()

	for i, layer := range req.Layers {
		if layer == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := layer.Image.Validate(); err != nil {
			return nil, fmt.Errorf("layer %d image: %w", i, err)
		}

		placement, err := MapToImageSpace(layer.Transform, req.Viewport, req.Base.Width, req.Base.Height)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if !(placement.Width > 0) || !(placement.Height > 0) {
			return nil, fmt.Errorf("layer %d: %w: mapped extent %vx%v", i, raster.ErrGeometry, placement.Width, placement.Height)
		}

		paint(dst, layer.Image, placement)
	}

	return out, nil
}

// paint draws src into dst centred on the placement, rotated clockwise and
// scaled to the placement's extent, with source-over blending.
func paint(dst *image.NRGBA, src *raster.Raster, p Placement) {
	opacity := clampUnit(p.Opacity)
	if opacity == 0 {
		return
	}

	img := src
	if opacity < 1 {
		img = withOpacity(src, opacity)
	}

	s2d := placementMatrix(src.Width, src.Height, p)
	draw.BiLinear.Transform(dst, s2d, img.NRGBA(), image.Rect(0, 0, src.Width, src.Height), draw.Over, nil)
}

// placementMatrix maps source pixel space to destination space:
// translate(center) * rotate(theta) * scale(kx, ky) * translate(-srcW/2, -srcH/2).
func placementMatrix(srcW, srcH int, p Placement) f64.Aff3 {
	kx := p.Width / float64(srcW)
	ky := p.Height / float64(srcH)
	cx, cy := p.Center()
	hw, hh := float64(srcW)/2, float64(srcH)/2

	theta := p.RotationDegrees * math.Pi / 180
	sin, cos := math.Sincos(theta)
	if p.RotationDegrees == 0 {
		sin, cos = 0, 1
	}

	return f64.Aff3{
		kx * cos, -ky * sin, cx - hw*kx*cos + hh*ky*sin,
		kx * sin, ky * cos, cy - hw*kx*sin - hh*ky*cos,
	}
}

// withOpacity returns a copy of src with every alpha scaled by opacity, which
// folds the layer's global alpha into the per-pixel alpha used by draw.Over.
func withOpacity(src *raster.Raster, opacity float64) *raster.Raster {
	out := src.Clone()
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8(math.Round(float64(out.Pix[i]) * opacity))
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}
