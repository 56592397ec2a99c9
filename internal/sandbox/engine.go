package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/gpurig/gpurig/internal/model"
)

// DefaultOutputLimit bounds captured step output when no limit is set.
const DefaultOutputLimit = 2 << 20

// Engine runs task steps in isolated sandboxes.
type Engine interface {
	// Check performs preflight checks and returns the results.
	// Checks verify that the engine has all required dependencies and permissions.
	Check(ctx context.Context) []model.CheckResult

	// Run executes a single step in a fresh sandbox and tears the sandbox
	// down before returning. A step timeout is a result, not an error.
	// Context cancellation aborts the step and is returned as an error.
	Run(ctx context.Context, req RunRequest) (*model.ExecutionResult, error)
}

// RunRequest describes one sandboxed step execution.
type RunRequest struct {
	// RunID ties the sandbox to a task run and names the container.
	RunID string
	// Step tags the container name ("task", "checkout").
	Step string
	// Spec is the sandbox the step runs in.
	Spec model.SandboxSpec
	// Command is the in-sandbox entrypoint.
	Command []string
	// Timeout bounds the step. Zero means unbounded.
	Timeout time.Duration
	// OutputLimit bounds captured combined output in bytes. Zero falls back
	// to DefaultOutputLimit.
	OutputLimit int64
}

// Validate validates the run request.
func (r RunRequest) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run ID is required: %w", model.ErrNotValid)
	}
	if r.Step == "" {
		return fmt.Errorf("step is required: %w", model.ErrNotValid)
	}
	if len(r.Command) == 0 {
		return fmt.Errorf("command is required: %w", model.ErrNotValid)
	}
	if err := r.Spec.Validate(); err != nil {
		return err
	}
	return nil
}
