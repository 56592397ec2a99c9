package runtask

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/orchestrator"
	"github.com/gpurig/gpurig/internal/utils/env"
)

const defaultTimeout = time.Hour

// TaskSource loads task definitions for ad hoc runs.
type TaskSource interface {
	GetTask(ctx context.Context, path string) (model.Task, error)
}

// ServiceConfig is the configuration of Service.
type ServiceConfig struct {
	Tasks  TaskSource
	Runner orchestrator.TaskRunner
	// DefaultTimeout bounds tasks whose definition declares no timeout.
	DefaultTimeout time.Duration
	Logger         log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Tasks == nil {
		return fmt.Errorf("task source is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("task runner is required")
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.RunTask"})

	return nil
}

// Service runs a task definition from a local file through the full
// orchestrated lifecycle, without a registry involved.
type Service struct {
	tasks          TaskSource
	runner         orchestrator.TaskRunner
	defaultTimeout time.Duration
	logger         log.Logger
}

// NewService creates a new ad hoc run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		tasks:          cfg.Tasks,
		runner:         cfg.Runner,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         cfg.Logger,
	}, nil
}

// Request is one ad hoc run of a local task definition.
type Request struct {
	// Path of the task definition YAML file.
	Path string
	// Env entries merged over the definition's own env, request wins.
	Env map[string]string
	// Workspace mounts an existing host directory instead of a fresh
	// checkout based workspace.
	Workspace string
	// KeepWorkspace leaves the run workspace on disk after the run.
	KeepWorkspace bool
}

// Run loads the task definition and drives it through the orchestrator.
func (s *Service) Run(ctx context.Context, req Request) (*model.TaskRun, error) {
	task, err := s.tasks.GetTask(ctx, req.Path)
	if err != nil {
		return nil, fmt.Errorf("could not load task definition: %w", err)
	}

	// Local definitions have no registry assigned identity.
	task.ID = ulid.Make().String()
	task.CreatedAt = time.Now().UTC()
	if task.Name == "" {
		task.Name = "adhoc"
	}
	if task.Timeout <= 0 {
		task.Timeout = s.defaultTimeout
	}
	if len(req.Env) > 0 {
		task.Env = env.MergeMaps(task.Env, req.Env)
	}

	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	opts := orchestrator.RunOptions{KeepWorkspace: req.KeepWorkspace}
	if req.Workspace != "" {
		workspace, err := filepath.Abs(req.Workspace)
		if err != nil {
			return nil, fmt.Errorf("could not resolve workspace path: %w", err)
		}
		opts.Workspace = workspace
		s.logger.Debugf("Using caller workspace %s", workspace)
	}

	run, err := s.runner.Run(ctx, task, opts)
	if err != nil {
		return nil, fmt.Errorf("could not run task: %w", err)
	}

	return run, nil
}
