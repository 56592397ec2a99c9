package model

import (
	"fmt"
	"time"
)

// TaskPhase is where a run currently is in its lifecycle. Phases only move
// forward within one attempt; a retry starts a fresh attempt from
// PhaseAdmitted.
type TaskPhase string

const (
	PhasePending      TaskPhase = "pending"
	PhaseAdmitted     TaskPhase = "admitted"
	PhaseSandboxReady TaskPhase = "sandbox_ready"
	PhaseCheckedOut   TaskPhase = "checked_out"
	PhaseRunning      TaskPhase = "running"
	PhaseReported     TaskPhase = "reported"
	PhaseDone         TaskPhase = "done"
)

// TaskRun is the record of one orchestrated task execution, persisted for
// history and report redelivery.
type TaskRun struct {
	ID        string
	TaskID    string
	TaskName  string
	Toolchain string

	Phase   TaskPhase
	Outcome Outcome

	ExitCode        int
	Output          []byte
	OutputTruncated bool
	// Error holds the failure detail for non task-code outcomes.
	Error string

	// Attempts is how many attempts the run consumed (1 when nothing was
	// retried).
	Attempts int
	// Reported is set once the registry acknowledged the result.
	Reported bool

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Validate validates the task run.
func (r TaskRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required: %w", ErrNotValid)
	}
	if r.TaskID == "" {
		return fmt.Errorf("run task id is required: %w", ErrNotValid)
	}
	return nil
}

// TaskReport is the result payload submitted to the registry.
type TaskReport struct {
	TaskID          string
	RunID           string
	Outcome         Outcome
	ExitCode        int
	Output          []byte
	OutputTruncated bool
	Error           string
	Attempts        int
	Duration        time.Duration
	FinishedAt      time.Time
}
