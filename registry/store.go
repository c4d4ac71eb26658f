// Package registry holds the coordinator-side record of render jobs.
// Workers never touch a store directly; they go through the HTTP API.
package registry

import (
	"context"
	"errors"

	"github.com/pipelinefx/render-worker/models"
)

// ErrNotFound is returned when a job id is not present in the store.
var ErrNotFound = errors.New("job not found")

// Store is the persistence interface for render jobs. UpdateJob is an
// idempotent upsert of the mutable fields; it does not validate the
// previous status, so concurrent writers can clobber each other (the
// worker loop itself is single-threaded and strictly ordered).
type Store interface {
	// CreateJob inserts a new job. An empty ID is filled with a fresh UUID
	// and an empty status defaults to ready_to_start.
	CreateJob(ctx context.Context, job *models.RenderJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, id string) (*models.RenderJob, error)

	// AllJobs returns every job in submission order.
	AllJobs(ctx context.Context) ([]*models.RenderJob, error)

	// JobsByStatus returns jobs with the given status in submission order.
	JobsByStatus(ctx context.Context, status models.RenderStatus) ([]*models.RenderJob, error)

	// UpdateJob overwrites the mutable fields of a job and returns the
	// updated record.
	UpdateJob(ctx context.Context, id string, progress int, status models.RenderStatus, timeEstimate string) (*models.RenderJob, error)

	// SetError records the failure message on a job and returns the
	// updated record. The message is cleared again on requeue.
	SetError(ctx context.Context, id string, msg string) (*models.RenderJob, error)

	// Requeue resets a terminal job back to ready_to_start so a worker can
	// claim it again. This is the only path out of finished/errored.
	Requeue(ctx context.Context, id string) (*models.RenderJob, error)

	// Close releases any underlying resources.
	Close() error
}
