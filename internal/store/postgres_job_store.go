package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/mockupflow/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	mockup_id TEXT NOT NULL DEFAULT '',
	base_object_key TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	layers JSONB NOT NULL,
	viewport JSONB NOT NULL,
	intensity TEXT NOT NULL DEFAULT 'medium',
	composite_key TEXT NOT NULL DEFAULT '',
	output_key TEXT NOT NULL DEFAULT '',
	enhanced_key TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, user_id, status, source_type, mockup_id, base_object_key, webhook_url,
	layers, viewport, intensity, composite_key, output_key, enhanced_key, error, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	layersJSON, err := json.Marshal(job.Layers)
	if err != nil {
		return fmt.Errorf("marshal job layers: %w", err)
	}
	viewportJSON, err := json.Marshal(job.Viewport)
	if err != nil {
		return fmt.Errorf("marshal job viewport: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.MockupID,
		job.BaseObjectKey,
		job.WebhookURL,
		layersJSON,
		viewportJSON,
		string(job.Intensity),
		job.CompositeKey,
		job.OutputKey,
		job.EnhancedKey,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job          domain.Job
		intensity    string
		layersJSON   []byte
		viewportJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.MockupID,
		&job.BaseObjectKey,
		&job.WebhookURL,
		&layersJSON,
		&viewportJSON,
		&intensity,
		&job.CompositeKey,
		&job.OutputKey,
		&job.EnhancedKey,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	job.Intensity = domain.Intensity(intensity)
	if err := json.Unmarshal(layersJSON, &job.Layers); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job layers: %w", err)
	}
	if err := json.Unmarshal(viewportJSON, &job.Viewport); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job viewport: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, result)
}

func (s *PostgresJobStore) UpdateOutcome(ctx context.Context, id string, outcome Outcome) (domain.Job, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1,
		     composite_key = COALESCE(NULLIF($2, ''), composite_key),
		     output_key = COALESCE(NULLIF($3, ''), output_key),
		     enhanced_key = COALESCE(NULLIF($4, ''), enhanced_key),
		     error = $5,
		     updated_at = $6
		 WHERE id = $7`,
		outcome.Status,
		outcome.CompositeKey,
		outcome.OutputKey,
		outcome.EnhancedKey,
		outcome.Error,
		now,
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job outcome: %w", err)
	}
	return s.reload(ctx, id, result)
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, result sql.Result) (domain.Job, error) {
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	return job, nil
}

func (s *PostgresJobStore) RecordUsage(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, stage, pixels_processed, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.JobID,
		usage.Stage,
		usage.PixelsProcessed,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
