package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/domain"
	"github.com/dunamismax/mockupflow/internal/id"
	"github.com/dunamismax/mockupflow/internal/queue"
	"github.com/dunamismax/mockupflow/internal/storage"
	"github.com/dunamismax/mockupflow/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultUserIDHeader = "X-User-ID"

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	projectStore          store.ProjectStore
	storage               objectStorage
	presignTTL            time.Duration
	enhanceFactor         int
	mux                   *http.ServeMux
	metrics               *metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
}

type Options struct {
	PresignTTL    time.Duration
	EnhanceFactor int
	RateLimiter   RateLimiter
	UserIDHeader  string
}

type queueEnqueuer interface {
	EnqueueComposeMockup(ctx context.Context, payload queue.ComposeMockupPayload) (*asynq.TaskInfo, error)
	EnqueueEnhanceImage(ctx context.Context, payload queue.EnhanceImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, projectStore store.ProjectStore, objects objectStorage, opts Options) *Server {
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	if objects == nil {
		objects = unavailableObjectStorage{}
	}
	enhanceFactor := opts.EnhanceFactor
	if enhanceFactor < 1 || enhanceFactor > domain.MaxEnhanceFactor {
		if enhanceFactor != 0 {
			logger.Printf("enhance factor %d out of range, using %d", enhanceFactor, domain.DefaultEnhanceFactor)
		}
		enhanceFactor = domain.DefaultEnhanceFactor
	}
	userIDHeader := strings.TrimSpace(opts.UserIDHeader)
	if userIDHeader == "" {
		userIDHeader = defaultUserIDHeader
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		projectStore:          projectStore,
		storage:               objects,
		presignTTL:            presignTTL,
		enhanceFactor:         enhanceFactor,
		mux:                   http.NewServeMux(),
		metrics:               newMetrics(),
		tracer:                otel.Tracer("mockupflow/api"),
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: userIDHeader,
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/mockups", s.handleListMockups)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/enhance", s.handleEnhanceJob)
	s.mux.HandleFunc("PUT /v1/projects/{id}", s.handleSaveProject)
	s.mux.HandleFunc("GET /v1/projects/{id}", s.handleGetProject)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMockups(w http.ResponseWriter, _ *http.Request) {
	mockups := domain.Mockups()
	out := make([]map[string]any, 0, len(mockups))
	for _, m := range mockups {
		labels := make([]string, m.DesignAreas)
		for i := range labels {
			labels[i] = domain.SlotLabel(m.DesignAreas, i)
		}
		out = append(out, map[string]any{
			"id":           m.ID,
			"name":         m.Name,
			"object_key":   m.ObjectKey,
			"design_areas": m.DesignAreas,
			"slot_labels":  labels,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mockups": out})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if projectID := strings.TrimSpace(req.ProjectID); projectID != "" {
		if !s.applyProject(w, r, projectID, &req) {
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	intensity, _ := domain.ParseIntensity(req.Intensity)

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))

	mockupID := strings.TrimSpace(req.MockupID)
	baseKey := strings.TrimSpace(req.BaseObjectKey)
	designAreas := len(req.Layers)
	if mockup, ok := domain.FindMockup(mockupID); ok {
		designAreas = mockup.DesignAreas
		if baseKey == "" {
			baseKey = mockup.ObjectKey
		}
	}

	// No catalog template and no key: the caller uploads a custom base image.
	baseUpload := map[string]any{"presigned_url_state": "not_required"}
	if baseKey == "" && sourceType == domain.SourceTypeS3Presigned {
		baseKey = storage.BaseUploadKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), baseKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job_id=%s slot=base err=%v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		baseUpload = map[string]any{"presigned_put_url": url, "presigned_url_state": "ready"}
		s.metrics.presignedURLs.WithLabelValues(http.MethodPut, "base").Inc()
	}

	layers := make([]*domain.LayerSpec, len(req.Layers))
	slots := make([]map[string]any, len(req.Layers))
	for i, layer := range req.Layers {
		if layer == nil {
			continue
		}
		spec := *layer
		uploadState := "not_required"
		presignedPutURL := ""

		if sourceType == domain.SourceTypeS3Presigned {
			spec.ObjectKey = storage.LayerUploadKey(jobID, i)
			url, err := s.storage.PresignedPutURL(r.Context(), spec.ObjectKey, s.presignTTL)
			if err != nil {
				s.logger.Printf("generate presigned url failed job_id=%s slot=%d err=%v", jobID, i, err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
				return
			}
			presignedPutURL = url
			uploadState = "ready"
			s.metrics.presignedURLs.WithLabelValues(http.MethodPut, "layer").Inc()
		}

		layers[i] = &spec
		slots[i] = map[string]any{
			"slot":                i,
			"label":               domain.SlotLabel(designAreas, i),
			"object_key":          spec.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		}
	}

	job := domain.Job{
		ID:            jobID,
		UserID:        strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:        domain.JobStatusCreated,
		SourceType:    sourceType,
		MockupID:      mockupID,
		BaseObjectKey: baseKey,
		Layers:        layers,
		Viewport:      req.ViewportOrDefault(),
		Intensity:     intensity,
		WebhookURL:    req.WebhookURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}
	s.metrics.jobsCreated.WithLabelValues(mockupLabel(job.MockupID), job.SourceType).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":          job.ID,
		"status":          job.Status,
		"mockup_id":       job.MockupID,
		"base_object_key": job.BaseObjectKey,
		"base_upload":     baseUpload,
		"slots":           slots,
		"start_url":       fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

// applyProject starts a job from a saved project's mockup and slots.
func (s *Server) applyProject(w http.ResponseWriter, r *http.Request, projectID string, req *domain.CreateJobRequest) bool {
	if s.projectStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "project storage is unavailable"})
		return false
	}
	project, ok, err := s.projectStore.GetProject(r.Context(), projectID)
	if err != nil {
		s.logger.Printf("load project failed project_id=%s err=%v", projectID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load project"})
		return false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return false
	}
	project.ApplyTo(req)
	return true
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated && job.Status != domain.JobStatusFailed {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("job is %s", job.Status)})
		return
	}

	if err := s.verifySourcesExist(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.ComposeMockupPayload{
		JobID:         job.ID,
		SourceType:    job.SourceType,
		WebhookURL:    job.WebhookURL,
		BaseObjectKey: job.BaseObjectKey,
		Layers:        job.Layers,
		Viewport:      job.Viewport,
		Intensity:     job.Intensity,
		RequestedAt:   time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueComposeMockup(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue, queue.TypeComposeMockup).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	outputs := map[string]string{}
	for name, key := range map[string]string{
		"composite": job.CompositeKey,
		"output":    job.OutputKey,
		"enhanced":  job.EnhancedKey,
	} {
		if key == "" {
			continue
		}
		outputs[name] = s.downloadURL(r.Context(), job, key)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"mockup_id":   job.MockupID,
		"intensity":   job.Intensity,
		"layers":      job.Layers,
		"viewport":    job.Viewport,
		"outputs":     outputs,
		"error":       job.Error,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	})
}

func (s *Server) handleEnhanceJob(w http.ResponseWriter, r *http.Request) {
	var req domain.EnhanceRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.Factor == 0 {
		req.Factor = s.enhanceFactor
	}
	factor, err := req.FactorOrDefault()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.OutputKey == "" || (job.Status != domain.JobStatusSucceeded && job.Status != domain.JobStatusEnhanced) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job has no finished output to enhance"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueEnhanceImage(r.Context(), queue.EnhanceImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.OutputKey,
		Factor:      factor,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Printf("enqueue enhance failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue enhancement"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue, queue.TypeEnhanceImage).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"factor":  factor,
		"queue":   taskInfo.Queue,
		"task_id": taskInfo.ID,
		"state":   taskInfo.State.String(),
	})
}

func (s *Server) handleSaveProject(w http.ResponseWriter, r *http.Request) {
	if s.projectStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "project storage is unavailable"})
		return
	}

	var project domain.Project
	if err := decodeJSON(r, &project); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	projectID := r.PathValue("id")
	if project.ID != "" && project.ID != projectID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project id does not match path"})
		return
	}
	project.ID = projectID
	project.SavedAt = time.Now().UTC()
	if err := project.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if mockup, ok := domain.FindMockup(project.MockupID); ok && len(project.Layers) != mockup.DesignAreas {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("layers must have %d slot(s), got %d", mockup.DesignAreas, len(project.Layers)),
		})
		return
	}

	if err := s.projectStore.SaveProject(r.Context(), project); err != nil {
		s.logger.Printf("save project failed project_id=%s err=%v", project.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save project"})
		return
	}
	writeJSON(w, http.StatusOK, projectView(project))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	if s.projectStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "project storage is unavailable"})
		return
	}

	projectID := r.PathValue("id")
	project, ok, err := s.projectStore.GetProject(r.Context(), projectID)
	if err != nil {
		s.logger.Printf("load project failed project_id=%s err=%v", projectID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load project"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}
	writeJSON(w, http.StatusOK, projectView(project))
}

// projectView fills in the optional opacity and rotation so clients always
// see the effective values.
func projectView(project domain.Project) domain.Project {
	layers := make([]*domain.ProjectLayer, len(project.Layers))
	for i, layer := range project.Layers {
		if layer == nil {
			continue
		}
		t := layer.Transform()
		resolved := *layer
		resolved.Opacity = &t.Opacity
		resolved.Rotation = &t.RotationDegrees
		layers[i] = &resolved
	}
	project.Layers = layers
	return project
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.Job{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) downloadURL(ctx context.Context, job domain.Job, key string) string {
	if job.SourceType == domain.SourceTypeLocalFile {
		return key
	}
	url, err := s.storage.PresignedGetURL(ctx, key, s.presignTTL)
	if err != nil {
		s.logger.Printf("presign download failed job_id=%s key=%s err=%v", job.ID, key, err)
		return ""
	}
	s.metrics.presignedURLs.WithLabelValues(http.MethodGet, "output").Inc()
	return url
}

func (s *Server) verifySourcesExist(ctx context.Context, job domain.Job) error {
	keys := []string{job.BaseObjectKey}
	for _, layer := range job.Layers {
		if layer != nil {
			keys = append(keys, layer.ObjectKey)
		}
	}
	for _, key := range keys {
		if err := s.verifySourceExists(ctx, job.SourceType, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) verifySourceExists(ctx context.Context, sourceType, key string) error {
	switch sourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", key)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, key)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", key)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
