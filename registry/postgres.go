package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pipelinefx/render-worker/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id TEXT PRIMARY KEY,
	assigned_worker TEXT NOT NULL,
	status TEXT NOT NULL,
	umap_path TEXT NOT NULL,
	useq_path TEXT NOT NULL,
	uconfig_path TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	time_estimate TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_render_jobs_status ON render_jobs(status);
`

// PostgresStore persists render jobs in Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and bootstraps the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateJob inserts a new job row
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.RenderJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.StatusReadyToStart
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid status %q", job.Status)
	}
	job.CreatedAt = time.Now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO render_jobs (id, assigned_worker, status, umap_path, useq_path, uconfig_path, progress, time_estimate, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.AssignedWorker, string(job.Status), job.UmapPath, job.UseqPath, job.UconfigPath,
		job.Progress, job.TimeEstimate, job.ErrorMessage, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job row by ID
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.RenderJob, error) {
	row := s.pool.QueryRow(ctx, selectJobs+` WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// AllJobs returns every job in submission order
func (s *PostgresStore) AllJobs(ctx context.Context) ([]*models.RenderJob, error) {
	rows, err := s.pool.Query(ctx, selectJobs+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// JobsByStatus returns jobs with the given status in submission order
func (s *PostgresStore) JobsByStatus(ctx context.Context, status models.RenderStatus) ([]*models.RenderJob, error) {
	rows, err := s.pool.Query(ctx, selectJobs+` WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateJob overwrites the mutable fields of a job row
func (s *PostgresStore) UpdateJob(ctx context.Context, id string, progress int, status models.RenderStatus, timeEstimate string) (*models.RenderJob, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE render_jobs
		SET progress = $2,
		    status = $3,
		    time_estimate = $4,
		    started_at = CASE WHEN $3 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $3 IN ('finished', 'errored') AND finished_at IS NULL THEN now() ELSE finished_at END
		WHERE id = $1`,
		id, progress, string(status), timeEstimate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetJob(ctx, id)
}

// SetError records the failure message on a job row
func (s *PostgresStore) SetError(ctx context.Context, id string, msg string) (*models.RenderJob, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE render_jobs SET error_message = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to set job error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetJob(ctx, id)
}

// Requeue resets a terminal job back to ready_to_start
func (s *PostgresStore) Requeue(ctx context.Context, id string) (*models.RenderJob, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE render_jobs
		SET status = 'ready_to_start',
		    progress = 0,
		    time_estimate = '',
		    error_message = '',
		    started_at = NULL,
		    finished_at = NULL
		WHERE id = $1 AND status IN ('finished', 'errored')`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("job %s is %s, only finished or errored jobs can be requeued", id, job.Status)
	}
	return s.GetJob(ctx, id)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const selectJobs = `
	SELECT id, assigned_worker, status, umap_path, useq_path, uconfig_path, progress, time_estimate, error_message, created_at, started_at, finished_at
	FROM render_jobs`

func scanJob(row pgx.Row) (*models.RenderJob, error) {
	var job models.RenderJob
	var status string
	var startedAt, finishedAt *time.Time

	err := row.Scan(&job.ID, &job.AssignedWorker, &status, &job.UmapPath, &job.UseqPath, &job.UconfigPath,
		&job.Progress, &job.TimeEstimate, &job.ErrorMessage, &job.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.RenderStatus(status)
	if startedAt != nil {
		job.StartedAt = *startedAt
	}
	if finishedAt != nil {
		job.FinishedAt = *finishedAt
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*models.RenderJob, error) {
	jobs := make([]*models.RenderJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return jobs, nil
}
