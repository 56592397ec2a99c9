// Package register announces this machine and its capability to the
// coordination registry.
package register

import (
	"context"
	"fmt"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/registry"
	"github.com/gpurig/gpurig/internal/sysinfo"
)

// ServiceConfig is the configuration for the register service.
type ServiceConfig struct {
	Prober   *sysinfo.Prober
	Registry registry.Client
	Logger   log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Prober == nil {
		return fmt.Errorf("prober is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Register"})
	return nil
}

// Service probes the machine and registers it.
type Service struct {
	prober   *sysinfo.Prober
	registry registry.Client
	logger   log.Logger
}

// NewService creates a new register service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		prober:   cfg.Prober,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}, nil
}

// Request is the registration request parameters.
type Request struct {
	// Name is the machine name announced to the registry.
	Name string
	// Capability is the declared capability. An empty GPU inventory is filled
	// in from probing.
	Capability model.MachineCapability
}

// Run probes the machine, assembles its record and registers it.
func (s *Service) Run(ctx context.Context, req Request) (*model.MachineRecord, error) {
	record, err := s.prober.Snapshot(ctx, req.Name, req.Capability)
	if err != nil {
		return nil, fmt.Errorf("could not probe machine: %w", err)
	}

	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid machine record: %w", err)
	}

	if err := s.registry.Register(ctx, *record); err != nil {
		return nil, fmt.Errorf("could not register machine: %w", err)
	}

	s.logger.Infof("Machine %q registered (%d gpus, %d workers)", record.Name, len(record.Capability.GPUs), record.Capability.Workers)
	return record, nil
}
