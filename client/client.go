// Package client is the worker-side HTTP client for the coordinator's
// job API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pipelinefx/render-worker/models"
)

// Client talks to the coordinator's job API. It implements
// worker.JobSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the coordinator at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchAllJobs returns every job known to the coordinator.
func (c *Client) FetchAllJobs(ctx context.Context) ([]*models.RenderJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jobs: server returned %s", resp.Status)
	}

	var jobs []*models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, nil
}

// updateRequest is the body of a job update call.
type updateRequest struct {
	Progress     int                 `json:"progress"`
	Status       models.RenderStatus `json:"status"`
	TimeEstimate string              `json:"time_estimate"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// UpdateJob overwrites the mutable fields of a job on the coordinator.
func (c *Client) UpdateJob(ctx context.Context, id string, progress int, status models.RenderStatus, timeEstimate string) error {
	return c.postUpdate(ctx, id, updateRequest{
		Progress:     progress,
		Status:       status,
		TimeEstimate: timeEstimate,
	})
}

// ReportError marks a job errored on the coordinator and records the
// failure message.
func (c *Client) ReportError(ctx context.Context, id string, msg string) error {
	return c.postUpdate(ctx, id, updateRequest{
		Progress:     0,
		Status:       models.StatusErrored,
		TimeEstimate: "0",
		ErrorMessage: msg,
	})
}

func (c *Client) postUpdate(ctx context.Context, id string, update updateRequest) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	url := fmt.Sprintf("%s/api/jobs/%s/update", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update job %s: server returned %s", id, resp.Status)
	}
	return nil
}

// Submit enqueues a new render request and returns the stored job.
func (c *Client) Submit(ctx context.Context, job *models.RenderJob) (*models.RenderJob, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("submit job: server returned %s", resp.Status)
	}

	var created models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &created, nil
}
