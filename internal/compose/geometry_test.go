package compose

import (
	"errors"
	"math"
	"testing"

	"github.com/dunamismax/mockupflow/internal/raster"
)

func TestLetterboxEqualAspect(t *testing.T) {
	fit, err := Letterbox(Viewport{Width: 100, Height: 100}, 100, 100)
	if err != nil {
		t.Fatalf("letterbox: %v", err)
	}
	if fit.Scale != 1 || fit.OffsetX != 0 || fit.OffsetY != 0 {
		t.Fatalf("expected identity fit, got %+v", fit)
	}
}

func TestLetterboxWideViewport(t *testing.T) {
	fit, err := Letterbox(Viewport{Width: 200, Height: 100}, 100, 100)
	if err != nil {
		t.Fatalf("letterbox: %v", err)
	}
	if fit.DisplayedWidth != 100 || fit.DisplayedHeight != 100 {
		t.Fatalf("expected 100x100 displayed, got %vx%v", fit.DisplayedWidth, fit.DisplayedHeight)
	}
	if fit.OffsetX != 50 || fit.OffsetY != 0 {
		t.Fatalf("expected offset (50,0), got (%v,%v)", fit.OffsetX, fit.OffsetY)
	}
}

func TestLetterboxWideBase(t *testing.T) {
	fit, err := Letterbox(Viewport{Width: 512, Height: 512}, 2048, 1024)
	if err != nil {
		t.Fatalf("letterbox: %v", err)
	}
	if fit.DisplayedWidth != 512 || fit.DisplayedHeight != 256 {
		t.Fatalf("expected 512x256 displayed, got %vx%v", fit.DisplayedWidth, fit.DisplayedHeight)
	}
	if fit.OffsetX != 0 || fit.OffsetY != 128 {
		t.Fatalf("expected offset (0,128), got (%v,%v)", fit.OffsetX, fit.OffsetY)
	}
	if fit.Scale != 4 {
		t.Fatalf("expected scale 4, got %v", fit.Scale)
	}
}

func TestMapToImageSpace(t *testing.T) {
	p, err := MapToImageSpace(LayerTransform{
		X: 60, Y: 10, Width: 20, Height: 30, Opacity: 0.5, RotationDegrees: 15,
	}, Viewport{Width: 200, Height: 100}, 400, 400)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	// displayed 100x100 at offsetX 50, scale 4
	if p.X != 40 || p.Y != 40 || p.Width != 80 || p.Height != 120 {
		t.Fatalf("unexpected placement %+v", p)
	}
	if p.Opacity != 0.5 || p.RotationDegrees != 15 {
		t.Fatalf("opacity/rotation not carried through: %+v", p)
	}
}

func TestMapToImageSpaceRejectsDegenerateInput(t *testing.T) {
	cases := []struct {
		name string
		vp   Viewport
		w, h int
	}{
		{name: "zero viewport width", vp: Viewport{Width: 0, Height: 10}, w: 10, h: 10},
		{name: "negative viewport height", vp: Viewport{Width: 10, Height: -1}, w: 10, h: 10},
		{name: "nan viewport", vp: Viewport{Width: math.NaN(), Height: 10}, w: 10, h: 10},
		{name: "zero base", vp: Viewport{Width: 10, Height: 10}, w: 0, h: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MapToImageSpace(LayerTransform{Width: 1, Height: 1}, tc.vp, tc.w, tc.h)
			if !errors.Is(err, raster.ErrGeometry) {
				t.Fatalf("expected ErrGeometry, got %v", err)
			}
		})
	}
}

func TestDefaultTransformFitsHalfEditor(t *testing.T) {
	wide, err := DefaultTransform(400, 200, 512)
	if err != nil {
		t.Fatalf("default transform: %v", err)
	}
	if wide.Width != 256 || wide.Height != 128 || wide.X != 128 || wide.Y != 192 {
		t.Fatalf("unexpected wide placement %+v", wide)
	}
	if wide.Opacity != 1 || wide.RotationDegrees != 0 {
		t.Fatalf("expected opaque unrotated default, got %+v", wide)
	}

	tall, err := DefaultTransform(100, 200, 0)
	if err != nil {
		t.Fatalf("default transform: %v", err)
	}
	if tall.Height != 256 || tall.Width != 128 {
		t.Fatalf("unexpected tall placement %+v", tall)
	}
}

func TestCenter(t *testing.T) {
	got := Center(LayerTransform{X: 3, Y: 4, Width: 20, Height: 10}, Viewport{Width: 100, Height: 50})
	if got.X != 40 || got.Y != 20 {
		t.Fatalf("expected (40,20), got (%v,%v)", got.X, got.Y)
	}
}
