package model

import (
	"fmt"
	"time"
)

// SourceRef points at the source code a task runs against.
type SourceRef struct {
	// RepoURL is the clone URL (ssh or https).
	RepoURL string
	// Ref is the symbolic ref to fetch (branch, tag or full ref). Optional.
	Ref string
	// Commit pins the exact revision to check out. Optional, wins over Ref.
	Commit string
}

// Validate validates the source reference.
func (s SourceRef) Validate() error {
	if s.RepoURL == "" {
		return fmt.Errorf("source repo url is required: %w", ErrNotValid)
	}
	return nil
}

// CapabilityRequirement is what a task needs from the machine to run.
type CapabilityRequirement struct {
	// GPUs is the number of GPU units the task needs bound. Zero means a
	// CPU-only task, which still occupies a worker slot.
	GPUs int
}

// Validate validates the capability requirement.
func (r CapabilityRequirement) Validate() error {
	if r.GPUs < 0 {
		return fmt.Errorf("gpu requirement cannot be negative: %w", ErrNotValid)
	}
	return nil
}

// Task is a unit of work accepted from the registry or from a local request.
// It is immutable once accepted; the orchestrator owns it for the duration of
// its run.
type Task struct {
	ID   string
	Name string

	// Source is where the task's code comes from. Nil for local runs that
	// execute against an already populated workspace.
	Source *SourceRef
	// Toolchain selects the sandbox image template the task runs in.
	Toolchain string
	// Requirement is the capability the admission scheduler must grant.
	Requirement CapabilityRequirement

	// Commands are executed in order inside the sandbox.
	Commands []string
	// Env are the only environment variables visible to the commands, besides
	// the ones the engine itself declares.
	Env map[string]string
	// AllowErrors keeps executing later commands after one fails. The exit
	// code of the run is the one of the last command.
	AllowErrors bool

	// Timeout bounds the wall-clock execution time.
	Timeout time.Duration
	// CredentialRef names the checkout credential in the secrets store.
	// Empty for public sources.
	CredentialRef string

	CreatedAt time.Time
}

// Validate validates the task.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrNotValid)
	}
	if t.Toolchain == "" {
		return fmt.Errorf("task toolchain is required: %w", ErrNotValid)
	}
	if len(t.Commands) == 0 {
		return fmt.Errorf("task needs at least one command: %w", ErrNotValid)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("task timeout must be positive: %w", ErrNotValid)
	}
	if err := t.Requirement.Validate(); err != nil {
		return err
	}
	if t.Source != nil {
		if err := t.Source.Validate(); err != nil {
			return err
		}
	}

	return nil
}
