// Package doctor runs the preflight checks an operator wants green before
// trusting the machine with tasks.
package doctor

import (
	"context"
	"fmt"
	"os"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox"
	"github.com/gpurig/gpurig/internal/sysinfo"
)

// ServiceConfig is the configuration for the doctor service.
type ServiceConfig struct {
	Engine  sandbox.Engine
	Prober  *sysinfo.Prober
	DataDir string
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Prober == nil {
		return fmt.Errorf("prober is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// Service assembles the machine's preflight checks: the sandbox engine's own
// checks plus GPU, driver and data dir probes.
type Service struct {
	engine  sandbox.Engine
	prober  *sysinfo.Prober
	dataDir string
	logger  log.Logger
}

// NewService creates a new doctor service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		engine:  cfg.Engine,
		prober:  cfg.Prober,
		dataDir: cfg.DataDir,
		logger:  cfg.Logger,
	}, nil
}

// Run executes all preflight checks. Failures come back as check results,
// never as an error.
func (s *Service) Run(ctx context.Context) []model.CheckResult {
	results := s.engine.Check(ctx)
	results = append(results, s.checkGPUs(ctx))
	results = append(results, s.checkDriver())
	results = append(results, s.checkDataDir())
	return results
}

func (s *Service) checkGPUs(ctx context.Context) model.CheckResult {
	gpus, err := s.prober.GPUs(ctx)
	if err != nil {
		return model.CheckResult{
			ID:      "gpu_devices",
			Status:  model.CheckStatusWarning,
			Message: fmt.Sprintf("Could not probe the PCI bus: %s", err),
		}
	}
	if len(gpus) == 0 {
		return model.CheckResult{
			ID:      "gpu_devices",
			Status:  model.CheckStatusWarning,
			Message: "No NVIDIA GPUs on the PCI bus, only CPU tasks will run",
		}
	}
	return model.CheckResult{
		ID:      "gpu_devices",
		Status:  model.CheckStatusOK,
		Message: fmt.Sprintf("%d NVIDIA GPU(s) detected", len(gpus)),
	}
}

func (s *Service) checkDriver() model.CheckResult {
	version, err := s.prober.DriverVersion()
	if err != nil {
		return model.CheckResult{
			ID:      "nvidia_driver",
			Status:  model.CheckStatusWarning,
			Message: fmt.Sprintf("Could not read the NVIDIA driver version: %s", err),
		}
	}
	if version == "" {
		return model.CheckResult{
			ID:      "nvidia_driver",
			Status:  model.CheckStatusWarning,
			Message: "No NVIDIA driver loaded, GPU tasks will fail",
		}
	}
	return model.CheckResult{
		ID:      "nvidia_driver",
		Status:  model.CheckStatusOK,
		Message: fmt.Sprintf("NVIDIA driver %s loaded", version),
	}
}

func (s *Service) checkDataDir() model.CheckResult {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return model.CheckResult{
			ID:      "data_dir",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("Could not create data dir %s: %s", s.dataDir, err),
		}
	}

	probe, err := os.CreateTemp(s.dataDir, ".doctor-*")
	if err != nil {
		return model.CheckResult{
			ID:      "data_dir",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("Data dir %s is not writable: %s", s.dataDir, err),
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return model.CheckResult{
		ID:      "data_dir",
		Status:  model.CheckStatusOK,
		Message: fmt.Sprintf("Data dir %s is writable", s.dataDir),
	}
}
