package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/pipelinefx/render-worker/models"
)

// Driver runs the render engine for one job and heartbeats progress to
// the job source while the process is alive.
type Driver struct {
	EnginePath  string
	ProjectPath string

	// ModuleDir is exported to the engine process as UE_PYTHONPATH so the
	// in-engine executor can find the worker-side integration scripts.
	ModuleDir string

	Heartbeat time.Duration
	Progress  ProgressSource
	Source    JobSource
}

// NewDriver creates a driver with the default linear progress estimate.
func NewDriver(enginePath, projectPath, moduleDir string, heartbeat, baseline time.Duration, source JobSource) *Driver {
	return &Driver{
		EnginePath:  enginePath,
		ProjectPath: projectPath,
		ModuleDir:   moduleDir,
		Heartbeat:   heartbeat,
		Progress:    LinearEstimate{Baseline: baseline},
		Source:      source,
	}
}

// Run renders one job to completion. It blocks until the engine process
// exits and classifies the outcome: nil on exit 0, *SpawnError when the
// process never started, *ExitError on a non-zero exit.
func (d *Driver) Run(ctx context.Context, job *models.RenderJob) error {
	cmd := d.command(ctx, job)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &SpawnError{Err: err}
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	err := d.monitor(ctx, job.ID, waitCh)

	if stdout.Len() > 0 {
		log.Printf("Job %s engine output: %d bytes", job.ID, stdout.Len())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return fmt.Errorf("render process failed: %w", err)
	}
	return nil
}

// command builds the engine invocation for a job. The mode flags are
// required by the Movie Render Pipeline runtime executor.
func (d *Driver) command(ctx context.Context, job *models.RenderJob) *exec.Cmd {
	args := []string{
		d.ProjectPath,

		job.UmapPath,
		fmt.Sprintf("-JobId=%s", job.ID),
		fmt.Sprintf("-LevelSequence=%s", job.UseqPath),
		fmt.Sprintf("-MoviePipelineConfig=%s", job.UconfigPath),

		// required
		"-game",
		"-MoviePipelineLocalExecutorClass=/Script/MovieRenderPipelineCore.MoviePipelinePythonHostExecutor",
		"-ExecutorPythonClass=/Engine/PythonTypes.MoviePipelineExampleRuntimeExecutor",

		// render preview
		"-windowed",
		"-resX=1280",
		"-resY=720",

		// logging
		"-StdOut",
		"-FullStdOutLogOutput",
	}

	cmd := exec.CommandContext(ctx, d.EnginePath, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("UE_PYTHONPATH=%s", d.ModuleDir))
	return cmd
}

// monitor heartbeats in_progress updates on a fixed cadence until the
// process exits, then returns the wait result. Heartbeat write failures
// are logged and never abort the render.
func (d *Driver) monitor(ctx context.Context, jobID string, waitCh <-chan error) error {
	heartbeat := d.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}

	start := time.Now()
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			return err
		case <-ticker.C:
			progress, estimate := d.Progress.Estimate(time.Since(start))
			if err := d.Source.UpdateJob(ctx, jobID, progress, models.StatusInProgress, estimate); err != nil {
				log.Printf("Failed to send heartbeat for job %s: %v", jobID, err)
			}
		}
	}
}
