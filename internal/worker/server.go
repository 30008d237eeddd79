package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/config"
	"github.com/dunamismax/mockupflow/internal/domain"
	"github.com/dunamismax/mockupflow/internal/generator"
	"github.com/dunamismax/mockupflow/internal/pipeline"
	"github.com/dunamismax/mockupflow/internal/queue"
	"github.com/dunamismax/mockupflow/internal/raster"
	"github.com/dunamismax/mockupflow/internal/storage"
	"github.com/dunamismax/mockupflow/internal/store"
	"github.com/dunamismax/mockupflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	generator       imageGenerator
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	RunComposite(ctx context.Context, in pipeline.CompositeInput) (pipeline.Result, error)
	StoreGenerated(ctx context.Context, jobID string, data []byte) (pipeline.Result, error)
	RunEnhance(ctx context.Context, jobID, key string, factor int) (pipeline.Result, error)
}

type imageGenerator interface {
	Generate(ctx context.Context, req generator.Request) (generator.Response, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators a worker needs. Generator may be nil, in which
// case jobs finish with the flat composite as their output.
type Deps struct {
	Storage    *storage.Client
	Generator  *generator.Client
	Webhook    webhookSender
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, enhanceCfg config.EnhanceConfig, deps Deps) (*Server, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	opts := pipeline.Options{Logger: logger, UpscaleKernel: enhanceCfg.Kernel}
	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: deps.Storage},
		pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: workerCfg.OutputPrefix},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   deps.Webhook,
		jobStore:        deps.JobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("mockupflow/worker"),
	}
	if deps.Generator != nil {
		s.generator = deps.Generator
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeComposeMockup, s.handleComposeMockup)
	mux.HandleFunc(queue.TypeEnhanceImage, s.handleEnhanceImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleComposeMockup(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseComposeMockupPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.compose_mockup", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.layer_slots", len(payload.Layers)),
		attribute.String("job.intensity", string(payload.Intensity)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(queue.TypeComposeMockup, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(queue.TypeComposeMockup, outcome).Inc()
	}()

	release := s.acquire()
	defer release()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s slots=%d base=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Layers),
		payload.BaseObjectKey,
	)
	s.updateJob(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusProcessing})

	proc := s.processorFor(payload.SourceType)
	composite, err := proc.RunComposite(ctx, compositeInput(payload))
	if err != nil {
		return s.failCompose(ctx, span, payload, "composite failed", err)
	}
	s.metrics.outputsTotal.WithLabelValues(pipeline.OutputComposite).Inc()
	s.recordUsage(ctx, payload.JobID, domain.UsageStageComposite, composite.Output, time.Since(startedAt))
	s.updateJob(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusComposited, CompositeKey: composite.Output.Path})
	s.logger.Printf("Composited job_id=%s width=%d height=%d bytes=%d", payload.JobID, composite.Output.Width, composite.Output.Height, composite.Output.Bytes)

	final := composite
	if s.generator != nil {
		generated, err := s.generate(ctx, proc, payload, composite.Data)
		if err != nil {
			return s.failCompose(ctx, span, payload, "generation failed", err)
		}
		final = generated
	}

	s.updateJob(ctx, payload.JobID, store.Outcome{
		Status:       domain.JobStatusSucceeded,
		CompositeKey: composite.Output.Path,
		OutputKey:    final.Output.Path,
	})
	s.dispatchWebhook(ctx, span, payload.JobID, payload.WebhookURL, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"intensity":    payload.Intensity,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"composite":    composite.Output,
		"output":       final.Output,
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "composed")
	return nil
}

func (s *Server) generate(ctx context.Context, proc processor, payload queue.ComposeMockupPayload, composite []byte) (pipeline.Result, error) {
	startedAt := time.Now()
	resp, err := s.generator.Generate(ctx, generator.Request{
		Image:     composite,
		MimeType:  raster.MimePNG,
		Intensity: payload.Intensity,
	})
	if err != nil {
		s.metrics.generationsTotal.WithLabelValues("error").Inc()
		return pipeline.Result{}, err
	}
	s.metrics.generationsTotal.WithLabelValues("ok").Inc()

	generated, err := proc.StoreGenerated(ctx, payload.JobID, resp.Image)
	if err != nil {
		return pipeline.Result{}, err
	}
	s.metrics.outputsTotal.WithLabelValues(pipeline.OutputGenerated).Inc()
	s.logger.Printf("Generated job_id=%s width=%d height=%d elapsed=%s", payload.JobID, generated.Output.Width, generated.Output.Height, time.Since(startedAt).Round(time.Millisecond))
	return generated, nil
}

func (s *Server) failCompose(ctx context.Context, span trace.Span, payload queue.ComposeMockupPayload, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	s.updateJob(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusFailed, Error: err.Error()})
	s.dispatchWebhook(ctx, span, payload.JobID, payload.WebhookURL, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	})
	if permanent(err) {
		return fmt.Errorf("%s: %v: %w", stage, err, asynq.SkipRetry)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func (s *Server) handleEnhanceImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseEnhanceImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.enhance_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int("enhance.factor", payload.Factor),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(queue.TypeEnhanceImage, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(queue.TypeEnhanceImage, outcome).Inc()
	}()

	release := s.acquire()
	defer release()

	s.logger.Printf("Enhancing... job_id=%s factor=%d object_key=%s", payload.JobID, payload.Factor, payload.ObjectKey)
	s.updateJob(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusEnhancing})

	result, err := s.processorFor(payload.SourceType).RunEnhance(ctx, payload.JobID, payload.ObjectKey, payload.Factor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enhance failed")
		restored := s.statusAfterFailedEnhance(ctx, payload.JobID)
		s.updateJob(ctx, payload.JobID, store.Outcome{Status: restored, Error: err.Error()})
		s.dispatchWebhook(ctx, span, payload.JobID, payload.WebhookURL, webhook.EventJobFailed, map[string]any{
			"job_id":    payload.JobID,
			"status":    restored,
			"stage":     "enhance",
			"failed_at": time.Now().UTC(),
			"error":     err.Error(),
		})
		if permanent(err) {
			return fmt.Errorf("enhance failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("enhance failed: %w", err)
	}

	s.metrics.outputsTotal.WithLabelValues(pipeline.OutputEnhanced).Inc()
	s.recordUsage(ctx, payload.JobID, domain.UsageStageEnhance, result.Output, time.Since(startedAt))
	s.updateJob(ctx, payload.JobID, store.Outcome{Status: domain.JobStatusEnhanced, EnhancedKey: result.Output.Path})
	s.logger.Printf("Enhanced job_id=%s width=%d height=%d", payload.JobID, result.Output.Width, result.Output.Height)
	s.dispatchWebhook(ctx, span, payload.JobID, payload.WebhookURL, webhook.EventJobEnhanced, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusEnhanced,
		"factor":       payload.Factor,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       result.Output,
	})

	outcome = domain.JobStatusEnhanced
	span.SetStatus(codes.Ok, "enhanced")
	return nil
}

// statusAfterFailedEnhance returns the job to where it stood before the
// enhance task. Its finished output is still valid, so the job stays
// enhanceable instead of failing.
func (s *Server) statusAfterFailedEnhance(ctx context.Context, jobID string) string {
	if s.jobStore == nil {
		return domain.JobStatusSucceeded
	}
	job, ok, err := s.jobStore.Get(ctx, jobID)
	if err != nil || !ok {
		return domain.JobStatusSucceeded
	}
	if job.EnhancedKey != "" {
		return domain.JobStatusEnhanced
	}
	return domain.JobStatusSucceeded
}

func (s *Server) acquire() func() {
	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	return func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}
}

func (s *Server) processorFor(sourceType string) processor {
	if sourceType == domain.SourceTypeLocalFile {
		return s.localProcessor
	}
	return s.objectProcessor
}

func compositeInput(payload queue.ComposeMockupPayload) pipeline.CompositeInput {
	layers := make([]*pipeline.LayerSource, len(payload.Layers))
	for i, layer := range payload.Layers {
		if layer == nil {
			continue
		}
		layers[i] = &pipeline.LayerSource{
			Source:    pipeline.Source{Key: layer.ObjectKey, MimeType: layer.MimeType},
			Transform: layer.Transform,
		}
	}
	return pipeline.CompositeInput{
		JobID:    payload.JobID,
		Base:     pipeline.Source{Key: payload.BaseObjectKey},
		Layers:   layers,
		Viewport: payload.Viewport,
	}
}

// permanent reports errors that will fail the same way on every retry.
func permanent(err error) bool {
	for _, target := range []error{
		raster.ErrDecode,
		raster.ErrGeometry,
		raster.ErrContext,
		raster.ErrEncode,
		pipeline.ErrMissingSource,
		storage.ErrObjectTooLarge,
		generator.ErrMissingAPIKey,
		generator.ErrInvalidAPIKey,
		generator.ErrNoImage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) updateJob(ctx context.Context, jobID string, outcome store.Outcome) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateOutcome(ctx, jobID, outcome); err != nil {
		s.logger.Printf("job update failed job_id=%s status=%s err=%v", jobID, outcome.Status, err)
	}
}

// dispatchWebhook never fails the task: a retry would redo paid generation
// work for a delivery problem.
func (s *Server) dispatchWebhook(ctx context.Context, span trace.Span, jobID, endpoint, event string, body map[string]any) {
	if endpoint == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, endpoint, event, body); err != nil {
		span.RecordError(err)
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", jobID, event, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, jobID, stage string, output pipeline.Output, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	pixelsProcessed := int64(output.Width) * int64(output.Height)
	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		Stage:           stage,
		PixelsProcessed: pixelsProcessed,
		OutputBytes:     int64(output.Bytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s stage=%s err=%v", jobID, stage, err)
		return
	}

	s.metrics.pixelsProcessedTotal.WithLabelValues(stage).Add(float64(pixelsProcessed))
	s.metrics.outputBytesTotal.WithLabelValues(stage).Add(float64(output.Bytes))
	s.metrics.computeTimeMSTotal.WithLabelValues(stage).Add(float64(computeTimeMS))
}
