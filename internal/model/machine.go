package model

import "fmt"

// GPUDevice is a discovered GPU on the machine.
type GPUDevice struct {
	// Index is the runtime device index (what the container runtime binds).
	Index int
	// PCIAddress is the PCI slot (e.g. "01:00.0").
	PCIAddress string
	// Vendor is the PCI vendor id (e.g. "10de" for NVIDIA).
	Vendor string
	// Model is the human readable device name when known.
	Model string
}

// MachineCapability is the snapshot of what this machine can run. The
// admission scheduler owns the mutable free/used accounting derived from it;
// the capability itself is recomputed from configuration and probing at
// daemon start, never resumed from disk.
type MachineCapability struct {
	GPUs []GPUDevice
	// Workers bounds the number of concurrently running tasks.
	Workers int
	// Toolchains this machine can build sandbox images for.
	Toolchains []string
	// Subscriptions are the registry channels this machine accepts tasks from.
	Subscriptions []string
}

// Validate validates the machine capability.
func (c MachineCapability) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("machine needs at least one worker: %w", ErrNotValid)
	}
	seen := map[int]bool{}
	for _, g := range c.GPUs {
		if seen[g.Index] {
			return fmt.Errorf("duplicated gpu index %d: %w", g.Index, ErrNotValid)
		}
		seen[g.Index] = true
	}
	return nil
}

// MachineRecord is the registration payload sent to the registry.
type MachineRecord struct {
	Name          string
	Capability    MachineCapability
	DriverVersion string
	CUDAVersion   string
	Distro        string
	Arch          string
}

// Validate validates the machine record.
func (r MachineRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("machine name is required: %w", ErrNotValid)
	}
	return r.Capability.Validate()
}
