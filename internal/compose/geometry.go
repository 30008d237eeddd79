// Package compose maps viewport-space layer placements into image space and
// flattens design layers onto a base raster.
package compose

import (
	"fmt"
	"math"

	"github.com/dunamismax/mockupflow/internal/raster"
)

// DefaultEditorSize is the square editor surface the transforms are captured in
// when a client does not report its viewport.
const DefaultEditorSize = 512

type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LayerTransform is a design placement in viewport coordinates, top-left origin.
type LayerTransform struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Opacity         float64 `json:"opacity"`
	RotationDegrees float64 `json:"rotation"`
}

// Placement is a LayerTransform resolved into base-image pixel space.
type Placement struct {
	X               float64
	Y               float64
	Width           float64
	Height          float64
	Opacity         float64
	RotationDegrees float64
}

func (p Placement) Center() (float64, float64) {
	return p.X + p.Width/2, p.Y + p.Height/2
}

// Fit describes how the base image is letterboxed inside the viewport.
type Fit struct {
	DisplayedWidth  float64
	DisplayedHeight float64
	OffsetX         float64
	OffsetY         float64
	Scale           float64
}

// Letterbox reconstructs the aspect-preserving fit of a baseW x baseH image in vp.
func Letterbox(vp Viewport, baseW, baseH int) (Fit, error) {
	if !(vp.Width > 0) || !(vp.Height > 0) || math.IsInf(vp.Width, 0) || math.IsInf(vp.Height, 0) {
		return Fit{}, fmt.Errorf("%w: viewport %vx%v", raster.ErrGeometry, vp.Width, vp.Height)
	}
	if baseW <= 0 || baseH <= 0 {
		return Fit{}, fmt.Errorf("%w: base image %dx%d", raster.ErrGeometry, baseW, baseH)
	}

	baseAspect := float64(baseW) / float64(baseH)
	viewportAspect := vp.Width / vp.Height

	var fit Fit
	if baseAspect > viewportAspect {
		fit.DisplayedWidth = vp.Width
		fit.DisplayedHeight = vp.Width / baseAspect
		fit.OffsetY = (vp.Height - fit.DisplayedHeight) / 2
	} else {
		fit.DisplayedHeight = vp.Height
		fit.DisplayedWidth = vp.Height * baseAspect
		fit.OffsetX = (vp.Width - fit.DisplayedWidth) / 2
	}
	if fit.DisplayedWidth == 0 || fit.DisplayedHeight == 0 {
		return Fit{}, fmt.Errorf("%w: displayed extent %vx%v", raster.ErrGeometry, fit.DisplayedWidth, fit.DisplayedHeight)
	}

	fit.Scale = float64(baseW) / fit.DisplayedWidth
	return fit, nil
}

// MapToImageSpace converts t from viewport coordinates into base-image pixels.
// Opacity and rotation pass through unchanged.
func MapToImageSpace(t LayerTransform, vp Viewport, baseW, baseH int) (Placement, error) {
	fit, err := Letterbox(vp, baseW, baseH)
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		X:               (t.X - fit.OffsetX) * fit.Scale,
		Y:               (t.Y - fit.OffsetY) * fit.Scale,
		Width:           t.Width * fit.Scale,
		Height:          t.Height * fit.Scale,
		Opacity:         t.Opacity,
		RotationDegrees: t.RotationDegrees,
	}, nil
}

// DefaultTransform places a freshly uploaded design: the longer side spans half
// the editor width, aspect preserved, centred, fully opaque and unrotated.
func DefaultTransform(designW, designH int, editorWidth float64) (LayerTransform, error) {
	if designW <= 0 || designH <= 0 {
		return LayerTransform{}, fmt.Errorf("%w: design %dx%d", raster.ErrGeometry, designW, designH)
	}
	if !(editorWidth > 0) {
		editorWidth = DefaultEditorSize
	}

	aspect := float64(designW) / float64(designH)
	maxDimension := editorWidth * 0.5

	var w, h float64
	if aspect > 1 {
		w = maxDimension
		h = w / aspect
	} else {
		h = maxDimension
		w = h * aspect
	}

	return LayerTransform{
		X:       (editorWidth - w) / 2,
		Y:       (editorWidth - h) / 2,
		Width:   w,
		Height:  h,
		Opacity: 1,
	}, nil
}

// Center moves t to the middle of vp without changing its size.
func Center(t LayerTransform, vp Viewport) LayerTransform {
	t.X = (vp.Width - t.Width) / 2
	t.Y = (vp.Height - t.Height) / 2
	return t
}
