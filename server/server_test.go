package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pipelinefx/render-worker/models"
	"github.com/pipelinefx/render-worker/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, registry.Store) {
	t.Helper()
	store := registry.NewMemoryStore()
	srv := NewServer(store, ":0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func submitJob(t *testing.T, ts *httptest.Server, worker string) *models.RenderJob {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"assigned_worker": worker,
		"umap_path":       "/Game/Maps/Demo",
		"useq_path":       "/Game/Sequences/Shot01",
		"uconfig_path":    "/Game/Presets/Default",
	})
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit returned %s", resp.Status)
	}
	var job models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	return &job
}

func TestSubmitAndGetJob(t *testing.T) {
	ts, _ := newTestServer(t)

	job := submitJob(t, ts, "RENDER_MACHINE_01")
	if job.ID == "" {
		t.Error("expected generated job ID")
	}
	if job.Status != models.StatusReadyToStart {
		t.Errorf("Status = %s, want ready_to_start", job.Status)
	}

	resp, err := http.Get(ts.URL + "/api/jobs/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get returned %s", resp.Status)
	}
	var got models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != job.ID || got.AssignedWorker != "RENDER_MACHINE_01" {
		t.Errorf("got = %+v", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"umap_path": "/Game/Maps/Demo"})
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("submit without assigned_worker returned %s, want 400", resp.Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/jobs/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %s, want 404", resp.Status)
	}
}

func TestListWithStatusFilter(t *testing.T) {
	ts, store := newTestServer(t)

	a := submitJob(t, ts, "W1")
	submitJob(t, ts, "W2")
	if _, err := store.UpdateJob(context.Background(), a.ID, 0, models.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/jobs?status=ready_to_start")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var jobs []*models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("filtered list returned %d jobs, want 1", len(jobs))
	}

	resp, err = http.Get(ts.URL + "/api/jobs?status=rendering")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status filter returned %s, want 400", resp.Status)
	}
}

func TestUpdateJobEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	job := submitJob(t, ts, "W")

	body, _ := json.Marshal(map[string]interface{}{
		"progress":      40,
		"status":        "in_progress",
		"time_estimate": "36s",
	})
	resp, err := http.Post(ts.URL+"/api/jobs/"+job.ID+"/update", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update returned %s", resp.Status)
	}
	var updated models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatal(err)
	}
	if updated.Progress != 40 || updated.Status != models.StatusInProgress || updated.TimeEstimate != "36s" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestUpdateJobWithErrorMessage(t *testing.T) {
	ts, _ := newTestServer(t)
	job := submitJob(t, ts, "W")

	body, _ := json.Marshal(map[string]interface{}{
		"progress":      0,
		"status":        "errored",
		"time_estimate": "0",
		"error_message": "render process exited with code 1",
	})
	resp, err := http.Post(ts.URL+"/api/jobs/"+job.ID+"/update", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update returned %s", resp.Status)
	}
	var updated models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.StatusErrored {
		t.Errorf("Status = %s, want errored", updated.Status)
	}
	if updated.ErrorMessage != "render process exited with code 1" {
		t.Errorf("ErrorMessage = %q", updated.ErrorMessage)
	}

	// the message survives a fresh read
	getResp, err := http.Get(ts.URL + "/api/jobs/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	var got models.RenderJob
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ErrorMessage != "render process exited with code 1" {
		t.Errorf("stored ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestWebSocketBroadcasts(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	readJSON := func() map[string]interface{} {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read websocket message: %v", err)
		}
		return msg
	}

	initial := readJSON()
	if initial["type"] != "initial_jobs" {
		t.Errorf("first message type = %v, want initial_jobs", initial["type"])
	}

	// submissions are broadcast, not just updates
	job := submitJob(t, ts, "W")
	created := readJSON()
	if created["type"] != "job_update" || created["job_id"] != job.ID {
		t.Errorf("create broadcast = %v", created)
	}
	if created["status"] != string(models.StatusReadyToStart) {
		t.Errorf("create broadcast status = %v, want ready_to_start", created["status"])
	}

	// errored updates carry the failure message
	body, _ := json.Marshal(map[string]interface{}{
		"progress":      0,
		"status":        "errored",
		"time_estimate": "0",
		"error_message": "engine crashed",
	})
	resp, err := http.Post(ts.URL+"/api/jobs/"+job.ID+"/update", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	errored := readJSON()
	if errored["type"] != "job_update" || errored["status"] != string(models.StatusErrored) {
		t.Errorf("error broadcast = %v", errored)
	}
	if errored["error"] != "engine crashed" {
		t.Errorf("error broadcast error = %v, want the failure message", errored["error"])
	}
}

func TestUpdateJobValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	job := submitJob(t, ts, "W")

	tests := []map[string]interface{}{
		{"progress": 150, "status": "in_progress"},
		{"progress": -1, "status": "in_progress"},
		{"progress": 50, "status": "rendering"},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(tt)
		resp, err := http.Post(ts.URL+"/api/jobs/"+job.ID+"/update", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("update %v returned %s, want 400", tt, resp.Status)
		}
	}
}

func TestRequeueEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	job := submitJob(t, ts, "W")

	// non-terminal jobs cannot be requeued
	resp, err := http.Post(ts.URL+"/api/jobs/"+job.ID+"/requeue", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("requeue of ready job returned %s, want 409", resp.Status)
	}

	if _, err := store.UpdateJob(context.Background(), job.ID, 0, models.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpdateJob(context.Background(), job.ID, 0, models.StatusErrored, "0"); err != nil {
		t.Fatal(err)
	}

	resp, err = http.Post(ts.URL+"/api/jobs/"+job.ID+"/requeue", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("requeue returned %s", resp.Status)
	}
	var requeued models.RenderJob
	if err := json.NewDecoder(resp.Body).Decode(&requeued); err != nil {
		t.Fatal(err)
	}
	if requeued.Status != models.StatusReadyToStart || requeued.Progress != 0 {
		t.Errorf("requeued = %+v", requeued)
	}
}
