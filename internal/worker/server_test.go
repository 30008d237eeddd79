package worker

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/mockupflow/internal/compose"
	"github.com/dunamismax/mockupflow/internal/domain"
	"github.com/dunamismax/mockupflow/internal/generator"
	"github.com/dunamismax/mockupflow/internal/pipeline"
	"github.com/dunamismax/mockupflow/internal/queue"
	"github.com/dunamismax/mockupflow/internal/raster"
	"github.com/dunamismax/mockupflow/internal/storage"
	"github.com/dunamismax/mockupflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
)

func TestHandleComposeMockupStoresGeneratedOutput(t *testing.T) {
	env := newTestEnv(t)
	env.server.generator = &fakeGenerator{image: solidPNG(t, 64, 64, color.NRGBA{G: 200, A: 255})}

	if err := env.server.handleComposeMockup(context.Background(), env.composeTask(t)); err != nil {
		t.Fatalf("handleComposeMockup returned error: %v", err)
	}

	job := env.job(t)
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected status %q, got %q (error=%q)", domain.JobStatusSucceeded, job.Status, job.Error)
	}
	if filepath.Base(job.CompositeKey) != "composite.png" {
		t.Fatalf("unexpected composite key %q", job.CompositeKey)
	}
	if filepath.Base(job.OutputKey) != "generated.png" {
		t.Fatalf("unexpected output key %q", job.OutputKey)
	}
	if _, err := os.Stat(job.OutputKey); err != nil {
		t.Fatalf("expected generated output on disk: %v", err)
	}
	if got := env.webhooks.events(); len(got) != 1 || got[0] != "job.completed" {
		t.Fatalf("expected one job.completed webhook, got %v", got)
	}
	if usage := env.store.Usage(); len(usage) != 1 || usage[0].Stage != domain.UsageStageComposite || usage[0].PixelsProcessed != 200*200 {
		t.Fatalf("unexpected usage rows %+v", usage)
	}
}

func TestHandleComposeMockupWithoutGeneratorUsesComposite(t *testing.T) {
	env := newTestEnv(t)

	if err := env.server.handleComposeMockup(context.Background(), env.composeTask(t)); err != nil {
		t.Fatalf("handleComposeMockup returned error: %v", err)
	}

	job := env.job(t)
	if job.OutputKey != job.CompositeKey {
		t.Fatalf("expected composite to be the output, got output=%q composite=%q", job.OutputKey, job.CompositeKey)
	}
}

func TestHandleComposeMockupDecodeFailureSkipsRetry(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.layerPath, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write layer: %v", err)
	}

	err := env.server.handleComposeMockup(context.Background(), env.composeTask(t))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job := env.job(t)
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got status=%q error=%q", job.Status, job.Error)
	}
	if got := env.webhooks.events(); len(got) != 1 || got[0] != "job.failed" {
		t.Fatalf("expected one job.failed webhook, got %v", got)
	}
}

func TestHandleComposeMockupTransientGenerationErrorRetries(t *testing.T) {
	env := newTestEnv(t)
	env.server.generator = &fakeGenerator{err: errors.New("upstream unavailable")}

	err := env.server.handleComposeMockup(context.Background(), env.composeTask(t))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("transient generation failure should be retried")
	}

	job := env.job(t)
	if job.CompositeKey == "" {
		t.Fatal("expected composite key to be recorded before generation")
	}
}

func TestHandleComposeMockupMissingKeySkipsRetry(t *testing.T) {
	env := newTestEnv(t)
	env.server.generator = &fakeGenerator{err: generator.ErrMissingAPIKey}

	if err := env.server.handleComposeMockup(context.Background(), env.composeTask(t)); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleEnhanceImage(t *testing.T) {
	env := newTestEnv(t)
	source := filepath.Join(t.TempDir(), "generated.png")
	if err := os.WriteFile(source, solidPNG(t, 30, 20, color.NRGBA{R: 90, G: 90, B: 90, A: 255}), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	task, err := queue.NewEnhanceImageTask(queue.EnhanceImagePayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.test/mockupflow",
		ObjectKey:  source,
		Factor:     2,
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := env.server.handleEnhanceImage(context.Background(), task); err != nil {
		t.Fatalf("handleEnhanceImage returned error: %v", err)
	}

	job := env.job(t)
	if job.Status != domain.JobStatusEnhanced {
		t.Fatalf("expected status %q, got %q", domain.JobStatusEnhanced, job.Status)
	}
	data, err := os.ReadFile(job.EnhancedKey)
	if err != nil {
		t.Fatalf("read enhanced output: %v", err)
	}
	img, err := raster.Decode(context.Background(), data, raster.MimePNG)
	if err != nil {
		t.Fatalf("decode enhanced output: %v", err)
	}
	if img.Width != 60 || img.Height != 40 {
		t.Fatalf("expected 60x40, got %dx%d", img.Width, img.Height)
	}
	if got := env.webhooks.events(); len(got) != 1 || got[0] != "job.enhanced" {
		t.Fatalf("expected one job.enhanced webhook, got %v", got)
	}
}

func TestEnhanceFailureKeepsFinishedJob(t *testing.T) {
	cases := []struct {
		name        string
		seed        store.Outcome
		wantStatus  string
		wantEnhance string
	}{
		{
			name:       "succeeded",
			seed:       store.Outcome{Status: domain.JobStatusSucceeded, OutputKey: "out/job-1/generated.png"},
			wantStatus: domain.JobStatusSucceeded,
		},
		{
			name:        "previously enhanced",
			seed:        store.Outcome{Status: domain.JobStatusEnhanced, OutputKey: "out/job-1/generated.png", EnhancedKey: "out/job-1/enhanced.png"},
			wantStatus:  domain.JobStatusEnhanced,
			wantEnhance: "out/job-1/enhanced.png",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if _, err := env.store.UpdateOutcome(context.Background(), "job-1", tc.seed); err != nil {
				t.Fatalf("seed outcome: %v", err)
			}
			garbage := filepath.Join(t.TempDir(), "generated.png")
			if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
				t.Fatalf("write source: %v", err)
			}

			task, err := queue.NewEnhanceImageTask(queue.EnhanceImagePayload{
				JobID:      "job-1",
				SourceType: domain.SourceTypeLocalFile,
				WebhookURL: "http://hooks.test/mockupflow",
				ObjectKey:  garbage,
				Factor:     2,
			})
			if err != nil {
				t.Fatalf("build task: %v", err)
			}
			if err := env.server.handleEnhanceImage(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("expected SkipRetry for undecodable source, got %v", err)
			}

			job := env.job(t)
			if job.Status != tc.wantStatus {
				t.Fatalf("expected status %q, got %q", tc.wantStatus, job.Status)
			}
			if job.OutputKey != tc.seed.OutputKey || job.EnhancedKey != tc.wantEnhance {
				t.Fatalf("expected outputs to survive, got output=%q enhanced=%q", job.OutputKey, job.EnhancedKey)
			}
			if job.Error == "" {
				t.Fatal("expected the enhance error to be recorded")
			}
			if got := env.webhooks.events(); len(got) != 1 || got[0] != "job.failed" {
				t.Fatalf("expected one job.failed webhook, got %v", got)
			}
		})
	}
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	err := env.server.handleComposeMockup(context.Background(), asynq.NewTask(queue.TypeComposeMockup, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{ID: "job-1", UserID: "user-1"}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-1", domain.UsageStageEnhance, pipeline.Output{Width: 20, Height: 10, Bytes: 300}, 250*time.Millisecond)

	if usageStore.log.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usageStore.log.UserID)
	}
	if usageStore.log.PixelsProcessed != 200 {
		t.Fatalf("expected pixels_processed=200, got %d", usageStore.log.PixelsProcessed)
	}
	if usageStore.log.OutputBytes != 300 {
		t.Fatalf("expected output_bytes=300, got %d", usageStore.log.OutputBytes)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageClampsComputeTime(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", domain.UsageStageComposite, pipeline.Output{Width: 5, Height: 5}, 0)

	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %q", usageStore.log.UserID)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

type testEnv struct {
	server    *Server
	store     *store.MemoryJobStore
	webhooks  *captureWebhooks
	basePath  string
	layerPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	basePath := filepath.Join(tmp, "base.png")
	layerPath := filepath.Join(tmp, "design.png")
	if err := os.WriteFile(basePath, solidPNG(t, 200, 200, color.NRGBA{R: 20, G: 20, B: 20, A: 255}), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(layerPath, solidPNG(t, 40, 40, color.NRGBA{R: 255, A: 255}), 0o644); err != nil {
		t.Fatalf("write layer: %v", err)
	}

	proc, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"), pipeline.Options{})
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{ID: "job-1", Status: domain.JobStatusQueued}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	webhooks := &captureWebhooks{}
	return &testEnv{
		server: &Server{
			logger:         log.New(io.Discard, "", 0),
			sem:            make(chan struct{}, 1),
			localProcessor: proc,
			webhookClient:  webhooks,
			jobStore:       jobStore,
			usageStore:     jobStore,
			metrics:        newMetrics(),
			tracer:         otel.Tracer("test"),
		},
		store:     jobStore,
		webhooks:  webhooks,
		basePath:  basePath,
		layerPath: layerPath,
	}
}

func (e *testEnv) composeTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := queue.NewComposeMockupTask(queue.ComposeMockupPayload{
		JobID:         "job-1",
		SourceType:    domain.SourceTypeLocalFile,
		WebhookURL:    "http://hooks.test/mockupflow",
		BaseObjectKey: e.basePath,
		Layers: []*domain.LayerSpec{{
			ObjectKey: e.layerPath,
			Transform: compose.LayerTransform{X: 60, Y: 60, Width: 40, Height: 40, Opacity: 1},
		}},
		Viewport:  compose.Viewport{Width: 200, Height: 200},
		Intensity: domain.IntensityMedium,
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func (e *testEnv) job(t *testing.T) domain.Job {
	t.Helper()
	job, ok, err := e.store.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("load job: ok=%v err=%v", ok, err)
	}
	return job
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img, err := raster.New(w, h)
	if err != nil {
		t.Fatalf("new raster: %v", err)
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	data, err := raster.Encode(img, raster.MimePNG)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

type fakeGenerator struct {
	image []byte
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (generator.Response, error) {
	if f.err != nil {
		return generator.Response{}, f.err
	}
	if len(req.Image) == 0 {
		return generator.Response{}, errors.New("empty composite")
	}
	return generator.Response{Image: f.image, MimeType: raster.MimePNG}, nil
}

func TestPermanentClassifiesErrors(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("decode layer 0: %w", raster.ErrDecode),
		fmt.Errorf("fetch base: %w", storage.ErrObjectTooLarge),
		generator.ErrMissingAPIKey,
	} {
		if !permanent(err) {
			t.Fatalf("expected %v to be permanent", err)
		}
	}
	if permanent(errors.New("connection reset by peer")) {
		t.Fatal("expected network errors to be retried")
	}
}

type captureWebhooks struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureWebhooks) Send(_ context.Context, _ string, event string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event)
	return nil
}

func (c *captureWebhooks) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type captureUsageStore struct {
	log domain.UsageLog
}

func (s *captureUsageStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	s.log = usage
	return nil
}
