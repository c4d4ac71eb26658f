package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pipelinefx/render-worker/models"
)

// MemoryStore keeps all jobs in process memory. It backs the coordinator
// in single-box deployments and the test suite.
type MemoryStore struct {
	mu       sync.RWMutex
	order    []string
	jobsByID map[string]*models.RenderJob
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		order:    make([]string, 0),
		jobsByID: make(map[string]*models.RenderJob),
	}
}

// CreateJob adds a new job to the store
func (s *MemoryStore) CreateJob(ctx context.Context, job *models.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.StatusReadyToStart
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid status %q", job.Status)
	}
	if _, exists := s.jobsByID[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.CreatedAt = time.Now()

	stored := *job
	s.jobsByID[job.ID] = &stored
	s.order = append(s.order, job.ID)
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobsByID[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *job
	return &copied, nil
}

// AllJobs returns a copy of every job in submission order
func (s *MemoryStore) AllJobs(ctx context.Context) ([]*models.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.RenderJob, 0, len(s.order))
	for _, id := range s.order {
		copied := *s.jobsByID[id]
		jobs = append(jobs, &copied)
	}
	return jobs, nil
}

// JobsByStatus returns jobs with the given status in submission order
func (s *MemoryStore) JobsByStatus(ctx context.Context, status models.RenderStatus) ([]*models.RenderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.RenderJob, 0)
	for _, id := range s.order {
		if s.jobsByID[id].Status == status {
			copied := *s.jobsByID[id]
			jobs = append(jobs, &copied)
		}
	}
	return jobs, nil
}

// UpdateJob overwrites the mutable fields of a job
func (s *MemoryStore) UpdateJob(ctx context.Context, id string, progress int, status models.RenderStatus, timeEstimate string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobsByID[id]
	if !exists {
		return nil, ErrNotFound
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	if status == models.StatusInProgress && job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	if status.Terminal() && job.FinishedAt.IsZero() {
		job.FinishedAt = time.Now()
	}
	job.Progress = progress
	job.Status = status
	job.TimeEstimate = timeEstimate

	copied := *job
	return &copied, nil
}

// SetError records the failure message on a job
func (s *MemoryStore) SetError(ctx context.Context, id string, msg string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobsByID[id]
	if !exists {
		return nil, ErrNotFound
	}
	job.ErrorMessage = msg

	copied := *job
	return &copied, nil
}

// Requeue resets a terminal job back to ready_to_start
func (s *MemoryStore) Requeue(ctx context.Context, id string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobsByID[id]
	if !exists {
		return nil, ErrNotFound
	}
	if !job.Status.Terminal() {
		return nil, fmt.Errorf("job %s is %s, only finished or errored jobs can be requeued", id, job.Status)
	}

	job.Status = models.StatusReadyToStart
	job.Progress = 0
	job.TimeEstimate = ""
	job.ErrorMessage = ""
	job.StartedAt = time.Time{}
	job.FinishedAt = time.Time{}

	copied := *job
	return &copied, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
