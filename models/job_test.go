package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RenderStatus
		want     bool
	}{
		{StatusReadyToStart, StatusInProgress, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusFinished, true},
		{StatusInProgress, StatusErrored, true},

		{StatusReadyToStart, StatusFinished, false},
		{StatusReadyToStart, StatusErrored, false},
		{StatusReadyToStart, StatusReadyToStart, false},
		{StatusFinished, StatusInProgress, false},
		{StatusFinished, StatusReadyToStart, false},
		{StatusErrored, StatusInProgress, false},
		{StatusErrored, StatusReadyToStart, false},
		{StatusInProgress, StatusReadyToStart, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if StatusReadyToStart.Terminal() || StatusInProgress.Terminal() {
		t.Error("ready_to_start and in_progress must not be terminal")
	}
	if !StatusFinished.Terminal() || !StatusErrored.Terminal() {
		t.Error("finished and errored must be terminal")
	}
}

func TestRenderJobJSONTimestamps(t *testing.T) {
	// started_at/finished_at are plain time.Time values, so a zero
	// timestamp serializes explicitly rather than being omitted.
	data, err := json.Marshal(&RenderJob{ID: "J1", Status: StatusReadyToStart})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, key := range []string{`"created_at"`, `"started_at"`, `"finished_at"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("marshaled job missing %s: %s", key, data)
		}
	}
}

func TestValid(t *testing.T) {
	for _, s := range []RenderStatus{StatusReadyToStart, StatusInProgress, StatusFinished, StatusErrored} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if RenderStatus("rendering").Valid() {
		t.Error("unknown status should not be valid")
	}
	if RenderStatus("").Valid() {
		t.Error("empty status should not be valid")
	}
}
