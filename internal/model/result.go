package model

import "time"

// Outcome is the terminal state of a task run.
type Outcome string

const (
	// OutcomeSucceeded means the task's commands exited zero.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the task's commands exited nonzero. Task code
	// failures are never retried automatically.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut means the declared timeout elapsed and the sandbox was
	// terminated. Distinct from OutcomeFailed.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeAborted means the run was cancelled externally (operator request
	// or daemon shutdown).
	OutcomeAborted Outcome = "aborted"
	// OutcomeInfraError means the machine's automation failed (sandbox could
	// not be built, instantiated or maintained), not the task's code.
	OutcomeInfraError Outcome = "infrastructure_error"
)

// TaskCodeOutcome reports whether the outcome was produced by the task's own
// code rather than by the execution infrastructure.
func (o Outcome) TaskCodeOutcome() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed || o == OutcomeTimedOut
}

// ExecutionResult is what one sandbox execution produced.
type ExecutionResult struct {
	Outcome  Outcome
	ExitCode int
	// Output is the combined stdout/stderr, bounded in size.
	Output []byte
	// OutputTruncated is set when Output hit the configured bound.
	OutputTruncated bool
	Duration        time.Duration
}
