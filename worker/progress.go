package worker

import (
	"fmt"
	"time"
)

// ProgressSource estimates render progress from elapsed wall-clock time.
// The engine exposes no progress API, so the default is a heuristic; a
// real progress channel can be dropped in without touching the worker
// or the state machine.
type ProgressSource interface {
	Estimate(elapsed time.Duration) (progress int, timeEstimate string)
}

// LinearEstimate assumes a render takes Baseline and interpolates
// linearly, clamped to [0,100]. Zero or negative Baseline falls back to
// 60 seconds.
type LinearEstimate struct {
	Baseline time.Duration
}

// Estimate returns the clamped progress percentage and a remaining-time
// string like "42s".
func (l LinearEstimate) Estimate(elapsed time.Duration) (int, string) {
	baseline := l.Baseline
	if baseline <= 0 {
		baseline = 60 * time.Second
	}

	progress := int(elapsed * 100 / baseline)
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}

	remaining := baseline - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return progress, fmt.Sprintf("%ds", int(remaining.Seconds()))
}
