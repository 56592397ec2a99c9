// Package history serves the locally persisted task run records.
package history

import (
	"context"
	"fmt"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage"
)

const defaultLimit = 20

// ServiceConfig is the configuration for the history service.
type ServiceConfig struct {
	Repository storage.RunRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service reads the run history.
type Service struct {
	repo   storage.RunRepository
	logger log.Logger
}

// NewService creates a new history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// ListRequest represents the list request parameters.
type ListRequest struct {
	// Limit caps how many runs come back, newest first. Zero means the
	// default.
	Limit int
}

// List returns the most recent runs.
func (s *Service) List(ctx context.Context, req ListRequest) ([]model.TaskRun, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	runs, err := s.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list runs: %w", err)
	}

	s.logger.Debugf("Found %d runs", len(runs))
	return runs, nil
}

// GetRequest represents the get request parameters.
type GetRequest struct {
	RunID string
}

// Get returns one run by ID.
func (s *Service) Get(ctx context.Context, req GetRequest) (*model.TaskRun, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	run, err := s.repo.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("could not get run %q: %w", req.RunID, err)
	}

	return run, nil
}
