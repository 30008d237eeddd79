package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/mockupflow/internal/compose"
	"github.com/dunamismax/mockupflow/internal/raster"
)

func TestLocalProcessor_CompositeFileInFileOut(t *testing.T) {
	tmp := t.TempDir()
	basePath := filepath.Join(tmp, "base.png")
	layerPath := filepath.Join(tmp, "design.png")
	outputDir := filepath.Join(tmp, "out")

	writeFile(t, basePath, solidPNG(t, 400, 400, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	writeFile(t, layerPath, solidPNG(t, 100, 100, color.NRGBA{R: 250, G: 0, B: 0, A: 255}))

	processor, err := NewLocalProcessor(outputDir, Options{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.RunComposite(context.Background(), CompositeInput{
		JobID: "job-local-1",
		Base:  Source{Key: basePath},
		Layers: []*LayerSource{
			nil,
			{
				Source:    Source{Key: layerPath},
				Transform: compose.LayerTransform{X: 50, Y: 50, Width: 100, Height: 100, Opacity: 1},
			},
		},
		Viewport: compose.Viewport{Width: 400, Height: 400},
	})
	if err != nil {
		t.Fatalf("run composite: %v", err)
	}

	if result.Output.Format != "png" {
		t.Fatalf("expected png output format, got %s", result.Output.Format)
	}
	if result.Output.Width != 400 || result.Output.Height != 400 {
		t.Fatalf("expected 400x400 output, got %dx%d", result.Output.Width, result.Output.Height)
	}

	img := readPNG(t, result.Output.Path)
	if got := color.NRGBAModel.Convert(img.At(100, 100)).(color.NRGBA); got.R != 250 || got.A != 255 {
		t.Fatalf("expected design pixel at (100,100), got %+v", got)
	}
	if got := color.NRGBAModel.Convert(img.At(10, 10)).(color.NRGBA); got != (color.NRGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Fatalf("expected base pixel at (10,10), got %+v", got)
	}
}

func TestProduceCompositeSurfacesLayerDecodeFailure(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, _, err = processor.ProduceComposite(context.Background(), CompositeInput{
		JobID: "job-bad-layer",
		Base:  Source{Data: solidPNG(t, 20, 20, color.NRGBA{A: 255})},
		Layers: []*LayerSource{
			{Source: Source{Data: solidPNG(t, 4, 4, color.NRGBA{R: 1, A: 255})}, Transform: compose.LayerTransform{Width: 4, Height: 4, Opacity: 1}},
			{Source: Source{Data: []byte("definitely not a png")}, Transform: compose.LayerTransform{Width: 4, Height: 4, Opacity: 1}},
		},
		Viewport: compose.Viewport{Width: 20, Height: 20},
	})
	if !errors.Is(err, raster.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestProduceCompositeMissingFile(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, _, err = processor.ProduceComposite(context.Background(), CompositeInput{
		JobID:    "job-missing",
		Base:     Source{Key: filepath.Join(t.TempDir(), "missing.png")},
		Viewport: compose.Viewport{Width: 20, Height: 20},
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	_, _, err = processor.ProduceComposite(context.Background(), CompositeInput{JobID: "job-empty"})
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
}

func TestEnhanceUpscalesThenSharpens(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), Options{UpscaleKernel: "catmullrom"})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	var sharpenedWidth int
	processor.sharpen = func(ctx context.Context, img *raster.Raster) (*raster.Raster, error) {
		sharpenedWidth = img.Width
		return img.Clone(), nil
	}

	img, _ := raster.New(30, 20)
	out, err := processor.Enhance(context.Background(), img, 2)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if out.Width != 60 || out.Height != 40 {
		t.Fatalf("expected 60x40, got %dx%d", out.Width, out.Height)
	}
	if sharpenedWidth != 60 {
		t.Fatalf("expected sharpen to run on the upscaled raster, got width %d", sharpenedWidth)
	}
}

func TestEnhanceKeepsUpscaledImageWhenSharpenFails(t *testing.T) {
	var logs bytes.Buffer
	processor, err := NewLocalProcessor(t.TempDir(), Options{Logger: newTestLogger(&logs)})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	processor.sharpen = func(context.Context, *raster.Raster) (*raster.Raster, error) {
		return nil, errors.New("boom")
	}

	img, _ := raster.New(8, 8)
	out, err := processor.Enhance(context.Background(), img, 3)
	if err != nil {
		t.Fatalf("expected sharpen failure to be swallowed, got %v", err)
	}
	if out.Width != 24 || out.Height != 24 {
		t.Fatalf("expected upscaled 24x24, got %dx%d", out.Width, out.Height)
	}
	if !bytes.Contains(logs.Bytes(), []byte("sharpen failed")) {
		t.Fatalf("expected sharpen failure to be logged, got %q", logs.String())
	}
}

func TestEnhancePropagatesUpscaleFailure(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}
	img, _ := raster.New(8, 8)
	if _, err := processor.Enhance(context.Background(), img, 0); !errors.Is(err, raster.ErrGeometry) {
		t.Fatalf("expected ErrGeometry, got %v", err)
	}
}

func TestRunEnhanceFromLocalFile(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "generated.png")
	writeFile(t, inputPath, solidPNG(t, 16, 12, color.NRGBA{R: 90, G: 90, B: 90, A: 255}))

	processor, err := NewLocalProcessor(filepath.Join(tmp, "out"), Options{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.RunEnhance(context.Background(), "job-enhance", inputPath, 2)
	if err != nil {
		t.Fatalf("run enhance: %v", err)
	}
	img := readPNG(t, result.Output.Path)
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Fatalf("expected 32x24, got %v", img.Bounds())
	}
	if filepath.Base(result.Output.Path) != "enhanced.png" {
		t.Fatalf("unexpected output path %s", result.Output.Path)
	}
}

func TestNewProcessorRejectsUnavailableVips(t *testing.T) {
	_, err := NewLocalProcessor(t.TempDir(), Options{UpscaleKernel: "vips"})
	if err == nil {
		t.Skip("libvips compiled in")
	}
	if !errors.Is(err, raster.ErrContext) {
		t.Fatalf("expected ErrContext, got %v", err)
	}
}

func TestNewProcessorRejectsUnknownKernel(t *testing.T) {
	if _, err := NewLocalProcessor(t.TempDir(), Options{UpscaleKernel: "nearest"}); err == nil {
		t.Fatal("expected kernel error")
	}
}

func solidPNG(t testing.TB, w, h int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}
	return img
}
