package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/mockupflow/internal/domain"
)

type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) { job.Status = status })
}

func (s *MemoryJobStore) UpdateOutcome(ctx context.Context, id string, outcome Outcome) (domain.Job, error) {
	return s.update(id, outcome.apply)
}

func (s *MemoryJobStore) update(id string, mutate func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	s.usage = append(s.usage, usage)
	return nil
}

// Usage returns a copy of the recorded usage rows in insertion order.
func (s *MemoryJobStore) Usage() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageLog(nil), s.usage...)
}

// cloneJob copies the layer slice so callers cannot reach into the map.
func cloneJob(job domain.Job) domain.Job {
	if job.Layers == nil {
		return job
	}
	layers := make([]*domain.LayerSpec, len(job.Layers))
	for i, layer := range job.Layers {
		if layer == nil {
			continue
		}
		copied := *layer
		layers[i] = &copied
	}
	job.Layers = layers
	return job
}
