package worker

import "fmt"

// SpawnError means the render process could not be started at all
// (missing executable, permission denied).
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start render process: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitError means the render process ran but exited with a non-zero
// code. Stderr is retained for logging only; it is never persisted to
// the job source.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("render process exited with code %d", e.Code)
}

// UpdateError means a status write to the job source failed.
type UpdateError struct {
	Op  string
	Err error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to update job source (%s): %v", e.Op, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}
