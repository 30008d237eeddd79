package store

import (
	"context"
	"errors"

	"github.com/dunamismax/mockupflow/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	UpdateOutcome(ctx context.Context, id string, outcome Outcome) (domain.Job, error)
}

type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}

type ProjectStore interface {
	SaveProject(ctx context.Context, project domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, bool, error)
}

// Outcome is a status transition plus whatever the stage produced. Empty
// keys leave the stored value untouched; Error is always overwritten.
type Outcome struct {
	Status       string
	CompositeKey string
	OutputKey    string
	EnhancedKey  string
	Error        string
}

func (o Outcome) apply(job *domain.Job) {
	job.Status = o.Status
	if o.CompositeKey != "" {
		job.CompositeKey = o.CompositeKey
	}
	if o.OutputKey != "" {
		job.OutputKey = o.OutputKey
	}
	if o.EnhancedKey != "" {
		job.EnhancedKey = o.EnhancedKey
	}
	job.Error = o.Error
}
