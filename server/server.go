// Package server is the coordinator: it owns the job registry and
// exposes the HTTP API the workers and the dashboard talk to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pipelinefx/render-worker/models"
	"github.com/pipelinefx/render-worker/registry"
)

// Server handles HTTP requests for render job management
type Server struct {
	store      registry.Store
	httpAddr   string
	wsManager  *models.WebSocketManager
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(store registry.Store, httpAddr string) *Server {
	wsManager := models.NewWebSocketManager()
	wsManager.Start()

	s := &Server{
		store:     store,
		httpAddr:  httpAddr,
		wsManager: wsManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
	return s
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	corsMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}

	mux.Handle("/api/jobs", corsMiddleware(http.HandlerFunc(s.handleJobs)))
	mux.Handle("/api/jobs/", corsMiddleware(http.HandlerFunc(s.handleJobDetails)))
	mux.Handle("/ws", http.HandlerFunc(s.handleWebSocket))
	return mux
}

// Start begins serving. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleJobs handles job listing and submission
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var job models.RenderJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "Invalid job JSON", http.StatusBadRequest)
		return
	}
	if job.AssignedWorker == "" {
		http.Error(w, "Missing assigned_worker", http.StatusBadRequest)
		return
	}
	if job.UmapPath == "" || job.UseqPath == "" || job.UconfigPath == "" {
		http.Error(w, "Missing umap_path, useq_path or uconfig_path", http.StatusBadRequest)
		return
	}

	// submissions always start from the beginning
	job.Status = models.StatusReadyToStart
	job.Progress = 0
	job.TimeEstimate = ""
	job.ErrorMessage = ""

	if err := s.store.CreateJob(r.Context(), &job); err != nil {
		log.Printf("Failed to create job: %v", err)
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}
	log.Printf("Job submitted: %s for worker %s", job.ID, job.AssignedWorker)

	s.wsManager.BroadcastJobUpdate(&job)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var jobs []*models.RenderJob
	var err error

	if status := r.URL.Query().Get("status"); status != "" {
		rs := models.RenderStatus(status)
		if !rs.Valid() {
			http.Error(w, "Invalid status parameter", http.StatusBadRequest)
			return
		}
		jobs, err = s.store.JobsByStatus(r.Context(), rs)
	} else {
		jobs, err = s.store.AllJobs(r.Context())
	}
	if err != nil {
		log.Printf("Failed to list jobs: %v", err)
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// handleJobDetails handles /api/jobs/{id}, /api/jobs/{id}/update and
// /api/jobs/{id}/requeue
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(rest, "/")
	jobID := parts[0]
	if jobID == "" {
		http.Error(w, "Missing job id", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetJob(w, r, jobID)
	case action == "update" && r.Method == http.MethodPost:
		s.handleUpdateJob(w, r, jobID)
	case action == "requeue" && r.Method == http.MethodPost:
		s.handleRequeueJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to get job %s: %v", jobID, err)
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// updateRequest is the body of a job update call from a worker
type updateRequest struct {
	Progress     int                 `json:"progress"`
	Status       models.RenderStatus `json:"status"`
	TimeEstimate string              `json:"time_estimate"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request, jobID string) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid update JSON", http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}
	if req.Progress < 0 || req.Progress > 100 {
		http.Error(w, "Progress must be between 0 and 100", http.StatusBadRequest)
		return
	}

	job, err := s.store.UpdateJob(r.Context(), jobID, req.Progress, req.Status, req.TimeEstimate)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to update job %s: %v", jobID, err)
		http.Error(w, "Failed to update job", http.StatusInternalServerError)
		return
	}

	if req.ErrorMessage != "" {
		job, err = s.store.SetError(r.Context(), jobID, req.ErrorMessage)
		if err != nil {
			log.Printf("Failed to set error for job %s: %v", jobID, err)
			http.Error(w, "Failed to update job", http.StatusInternalServerError)
			return
		}
	}

	s.wsManager.BroadcastJobUpdate(job)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.store.Requeue(r.Context(), jobID)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to requeue job %s: %v", jobID, err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.Printf("Job requeued: %s", jobID)

	s.wsManager.BroadcastJobUpdate(job)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	s.wsManager.RegisterClient(conn)

	// Send initial job list to the client
	allJobs, err := s.store.AllJobs(r.Context())
	if err == nil {
		initialData, err := json.Marshal(map[string]interface{}{
			"type": "initial_jobs",
			"jobs": allJobs,
		})
		if err == nil {
			conn.WriteMessage(websocket.TextMessage, initialData)
		}
	}

	// Handle disconnection
	go func() {
		for {
			// Read messages from the client (we don't really need to do anything with them)
			_, _, err := conn.ReadMessage()
			if err != nil {
				s.wsManager.UnregisterClient(conn)
				break
			}
		}
	}()
}
