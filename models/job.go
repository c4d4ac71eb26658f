package models

import (
	"time"
)

// RenderStatus represents the current state of a render job in the system
type RenderStatus string

const (
	StatusReadyToStart RenderStatus = "ready_to_start"
	StatusInProgress   RenderStatus = "in_progress"
	StatusFinished     RenderStatus = "finished"
	StatusErrored      RenderStatus = "errored"
)

// Terminal reports whether the status is an end state for the worker.
// Jobs only leave a terminal state through an external requeue.
func (s RenderStatus) Terminal() bool {
	return s == StatusFinished || s == StatusErrored
}

// Valid reports whether s is one of the known statuses.
func (s RenderStatus) Valid() bool {
	switch s {
	case StatusReadyToStart, StatusInProgress, StatusFinished, StatusErrored:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is allowed.
// The in_progress -> in_progress case is the heartbeat self-transition.
func CanTransition(from, to RenderStatus) bool {
	switch from {
	case StatusReadyToStart:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusInProgress || to == StatusFinished || to == StatusErrored
	}
	return false
}

// RenderJob represents a render request for a specific worker machine
type RenderJob struct {
	ID             string       `json:"id"`
	AssignedWorker string       `json:"assigned_worker"`
	Status         RenderStatus `json:"status"`
	UmapPath       string       `json:"umap_path"`
	UseqPath       string       `json:"useq_path"`
	UconfigPath    string       `json:"uconfig_path"`
	Progress       int          `json:"progress"`
	TimeEstimate   string       `json:"time_estimate,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}
