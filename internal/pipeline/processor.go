package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/mockupflow/internal/compose"
	"github.com/dunamismax/mockupflow/internal/enhance"
	"github.com/dunamismax/mockupflow/internal/raster"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	OutputComposite = "composite"
	OutputGenerated = "generated"
	OutputEnhanced  = "enhanced"

	maxConcurrentDecodes = 4
)

var ErrMissingSource = errors.New("image source is empty")

// Source is an encoded image, either inline or addressed by key through the
// processor's Fetcher.
type Source struct {
	Key      string
	Data     []byte
	MimeType string
}

type LayerSource struct {
	Source    Source
	Transform compose.LayerTransform
}

type CompositeInput struct {
	JobID    string
	Base     Source
	Layers   []*LayerSource
	Viewport compose.Viewport
}

type Output struct {
	Name    string
	Format  string
	Path    string
	Bytes   int
	Width   int
	Height  int
	Success bool
}

type Result struct {
	Output Output
	Data   []byte
}

type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, jobID, name string, data []byte, mimeType string, width, height int) (Output, error)
}

type Options struct {
	Logger        *log.Logger
	UpscaleKernel string
}

type Processor struct {
	logger   *log.Logger
	fetcher  Fetcher
	emitter  Emitter
	upscaler enhance.Upscaler
	sharpen  func(context.Context, *raster.Raster) (*raster.Raster, error)
	tracer   trace.Tracer
}

func NewProcessor(fetcher Fetcher, emitter Emitter, opts Options) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}

	upscaler, err := enhance.NewUpscaler(opts.UpscaleKernel)
	if err != nil {
		return nil, fmt.Errorf("build upscaler: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Processor{
		logger:   logger,
		fetcher:  fetcher,
		emitter:  emitter,
		upscaler: upscaler,
		sharpen:  enhance.Sharpen,
		tracer:   otel.Tracer("mockupflow/pipeline"),
	}, nil
}

func NewLocalProcessor(outputDir string, opts Options) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, opts)
}

// ProduceComposite decodes the base and every populated layer concurrently,
// flattens them and returns the PNG-encoded composite.
func (p *Processor) ProduceComposite(ctx context.Context, in CompositeInput) ([]byte, *raster.Raster, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.composite")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", in.JobID),
		attribute.Int("composite.slots", len(in.Layers)),
	)

	base, layers, err := p.decodeSources(ctx, in)
	if err != nil {
		return nil, nil, p.fail(span, "decode stage", err)
	}

	out, err := compose.Composite(ctx, compose.Request{
		Base:     base,
		Layers:   layers,
		Viewport: in.Viewport,
	})
	if err != nil {
		return nil, nil, p.fail(span, "composite stage", err)
	}

	data, err := raster.Encode(out, raster.MimePNG)
	if err != nil {
		return nil, nil, p.fail(span, "encode stage", err)
	}

	span.SetAttributes(
		attribute.Int("composite.width", out.Width),
		attribute.Int("composite.height", out.Height),
		attribute.Int("composite.layers", compose.Layers(layers).Populated()),
	)
	return data, out, nil
}

// RunComposite produces the composite and hands it to the emitter.
func (p *Processor) RunComposite(ctx context.Context, in CompositeInput) (Result, error) {
	if strings.TrimSpace(in.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	data, out, err := p.ProduceComposite(ctx, in)
	if err != nil {
		return Result{}, err
	}

	written, err := p.emitter.Emit(ctx, in.JobID, OutputComposite, data, raster.MimePNG, out.Width, out.Height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage output=%s: %w", OutputComposite, err)
	}
	return Result{Output: written, Data: data}, nil
}

// Enhance upscales then sharpens. A sharpen failure is logged and the
// upscaled raster is returned as is.
func (p *Processor) Enhance(ctx context.Context, img *raster.Raster, factor int) (*raster.Raster, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.enhance")
	defer span.End()
	span.SetAttributes(attribute.Int("enhance.factor", factor), attribute.String("enhance.kernel", p.upscaler.Kernel))

	upscaled, err := p.upscaler.Upscale(ctx, img, factor)
	if err != nil {
		return nil, p.fail(span, "upscale stage", err)
	}

	sharpened, err := p.sharpen(ctx, upscaled)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, p.fail(span, "sharpen stage", ctxErr)
		}
		span.RecordError(err)
		p.logger.Printf("sharpen failed, returning unsharpened image width=%d height=%d err=%v", upscaled.Width, upscaled.Height, err)
		return upscaled, nil
	}
	return sharpened, nil
}

// EnhanceBytes decodes data, enhances it and returns PNG bytes.
func (p *Processor) EnhanceBytes(ctx context.Context, data []byte, mimeType string, factor int) ([]byte, *raster.Raster, error) {
	img, err := raster.Decode(ctx, data, mimeType)
	if err != nil {
		return nil, nil, fmt.Errorf("decode stage: %w", err)
	}

	out, err := p.Enhance(ctx, img, factor)
	if err != nil {
		return nil, nil, err
	}

	encoded, err := raster.Encode(out, raster.MimePNG)
	if err != nil {
		return nil, nil, fmt.Errorf("encode stage: %w", err)
	}
	return encoded, out, nil
}

// RunEnhance fetches a stored image by key, enhances it and emits the result.
func (p *Processor) RunEnhance(ctx context.Context, jobID, key string, factor int) (Result, error) {
	if strings.TrimSpace(jobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	source, err := p.fetcher.Fetch(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	data, out, err := p.EnhanceBytes(ctx, source, "", factor)
	if err != nil {
		return Result{}, err
	}

	written, err := p.emitter.Emit(ctx, jobID, OutputEnhanced, data, raster.MimePNG, out.Width, out.Height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage output=%s: %w", OutputEnhanced, err)
	}
	return Result{Output: written, Data: data}, nil
}

// StoreGenerated validates the generation service's image and emits it.
func (p *Processor) StoreGenerated(ctx context.Context, jobID string, data []byte) (Result, error) {
	img, err := raster.Decode(ctx, data, "")
	if err != nil {
		return Result{}, fmt.Errorf("decode generated image: %w", err)
	}

	encoded, err := raster.Encode(img, raster.MimePNG)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}

	written, err := p.emitter.Emit(ctx, jobID, OutputGenerated, encoded, raster.MimePNG, img.Width, img.Height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage output=%s: %w", OutputGenerated, err)
	}
	return Result{Output: written, Data: encoded}, nil
}

func (p *Processor) decodeSources(ctx context.Context, in CompositeInput) (*raster.Raster, []*compose.Layer, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDecodes)

	var base *raster.Raster
	g.Go(func() error {
		img, err := p.load(gctx, in.Base)
		if err != nil {
			return fmt.Errorf("base image: %w", err)
		}
		base = img
		return nil
	})

	layers := make([]*compose.Layer, len(in.Layers))
	for i, layer := range in.Layers {
		if layer == nil {
			continue
		}
		g.Go(func() error {
			img, err := p.load(gctx, layer.Source)
			if err != nil {
				return fmt.Errorf("layer %d image: %w", i, err)
			}
			layers[i] = &compose.Layer{Image: img, Transform: layer.Transform}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return base, layers, nil
}

func (p *Processor) load(ctx context.Context, src Source) (*raster.Raster, error) {
	data := src.Data
	if data == nil {
		if strings.TrimSpace(src.Key) == "" {
			return nil, ErrMissingSource
		}
		fetched, err := p.fetcher.Fetch(ctx, src.Key)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", src.Key, err)
		}
		data = fetched
	}
	return raster.Decode(ctx, data, src.MimeType)
}

func (p *Processor) fail(span trace.Span, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")
	return fmt.Errorf("%s: %w", stage, err)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", key, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, jobID, name string, data []byte, mimeType string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(name) == "" {
		return Output{}, errors.New("output name is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	format := raster.FormatForMime(mimeType)
	fullPath := filepath.Join(jobDir, fmt.Sprintf("%s.%s", sanitizePathToken(name), format))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Name:    name,
		Format:  format,
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
