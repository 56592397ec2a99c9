package model

import "fmt"

// Mount binds a host path into the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// SandboxSpec is the resolved description of the isolated context a task (or
// its checkout pre-step) runs in. It is derived per run from the task and the
// machine capability and never persisted.
type SandboxSpec struct {
	// Image is the resolved sandbox image.
	Image ImageRef
	// Mounts are the host paths bound into the sandbox.
	Mounts []Mount
	// Env is the full environment of the sandboxed process. Nothing from the
	// daemon's own environment leaks in.
	Env map[string]string
	// GPUs are the devices bound into the sandbox.
	GPUs []GPUDevice
	// WorkDir is the working directory inside the sandbox.
	WorkDir string
}

// Validate validates the sandbox spec.
func (s SandboxSpec) Validate() error {
	if s.Image.Tag == "" {
		return fmt.Errorf("sandbox image is required: %w", ErrNotValid)
	}
	for _, m := range s.Mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("mount needs source and target: %w", ErrNotValid)
		}
	}
	return nil
}
