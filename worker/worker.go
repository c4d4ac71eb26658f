// Package worker implements the job-claiming and execution control loop
// of a single render machine.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/pipelinefx/render-worker/models"
)

// JobSource is the remote registry the worker polls and reports to.
// FetchAllJobs returns every job visible to the caller; the worker does
// its own filtering. UpdateJob is a fire-and-forget overwrite of the
// mutable fields.
type JobSource interface {
	FetchAllJobs(ctx context.Context) ([]*models.RenderJob, error)
	UpdateJob(ctx context.Context, id string, progress int, status models.RenderStatus, timeEstimate string) error

	// ReportError marks a job errored (progress 0, time estimate "0")
	// and records the failure message for operators.
	ReportError(ctx context.Context, id string, msg string) error
}

// Runner executes one render job to completion. The production
// implementation is *Driver.
type Runner interface {
	Run(ctx context.Context, job *models.RenderJob) error
}

// Worker polls the job source for jobs assigned to it and executes them
// sequentially. One worker process owns one fixed identity.
type Worker struct {
	Name         string
	Source       JobSource
	Runner       Runner
	PollInterval time.Duration
}

// New creates a worker with the given identity.
func New(name string, source JobSource, runner Runner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Worker{
		Name:         name,
		Source:       source,
		Runner:       runner,
		PollInterval: pollInterval,
	}
}

// Run polls until ctx is cancelled. Job failures never stop the loop;
// every failure is folded into an errored status plus a log line.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("Starting render worker %s", w.Name)

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			log.Printf("Render worker %s shutting down", w.Name)
			return ctx.Err()
		case <-time.After(w.PollInterval):
		}
	}
}

// runOnce performs a single poll pass: fetch, filter, execute.
func (w *Worker) runOnce(ctx context.Context) {
	jobs, err := w.Source.FetchAllJobs(ctx)
	if err != nil {
		log.Printf("Failed to fetch jobs: %v", err)
		return
	}
	log.Printf("Retrieved %d render jobs", len(jobs))

	eligible := make([]*models.RenderJob, 0)
	for _, job := range jobs {
		if job.AssignedWorker == w.Name && job.Status == models.StatusReadyToStart {
			eligible = append(eligible, job)
		}
	}
	log.Printf("Found %d ready_to_start jobs for worker %s", len(eligible), w.Name)

	// render blocks the loop; jobs run one at a time
	for _, job := range eligible {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processJob(ctx, job)
	}
}

// processJob claims one job, runs it, and writes the terminal status.
// No error escapes: a bad job can never crash the worker.
func (w *Worker) processJob(ctx context.Context, job *models.RenderJob) {
	log.Printf("Rendering job %s", job.ID)

	// The claim write happens before the spawn so a crash mid-render
	// leaves the job visibly in_progress rather than falsely ready.
	if err := w.Source.UpdateJob(ctx, job.ID, 0, models.StatusInProgress, "Calculating..."); err != nil {
		claimErr := &UpdateError{Op: "claim", Err: err}
		log.Printf("Failed to claim job %s: %v", job.ID, claimErr)
		w.markErrored(ctx, job.ID, claimErr)
		return
	}
	log.Printf("Started rendering job %s", job.ID)

	if err := w.Runner.Run(ctx, job); err != nil {
		w.logFailure(job.ID, err)
		w.markErrored(ctx, job.ID, err)
		return
	}

	if err := w.Source.UpdateJob(ctx, job.ID, 100, models.StatusFinished, "N/A"); err != nil {
		log.Printf("Failed to mark job %s finished: %v", job.ID, &UpdateError{Op: "finish", Err: err})
		return
	}
	log.Printf("Finished rendering job %s", job.ID)
}

func (w *Worker) markErrored(ctx context.Context, jobID string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := w.Source.ReportError(ctx, jobID, msg); err != nil {
		log.Printf("Failed to mark job %s errored: %v", jobID, &UpdateError{Op: "error", Err: err})
	}
}

func (w *Worker) logFailure(jobID string, err error) {
	var spawnErr *SpawnError
	var exitErr *ExitError
	switch {
	case errors.As(err, &spawnErr):
		log.Printf("Error rendering job %s: %v", jobID, spawnErr)
	case errors.As(err, &exitErr):
		log.Printf("Error rendering job %s: %v", jobID, exitErr)
		if exitErr.Stderr != "" {
			log.Printf("Job %s stderr: %s", jobID, exitErr.Stderr)
		}
	default:
		log.Printf("Unexpected error rendering job %s: %v", jobID, err)
	}
}
