// Package imagelist serves the cached sandbox image manifest.
package imagelist

import (
	"context"
	"fmt"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage"
)

// ServiceConfig is the configuration for the image list service.
type ServiceConfig struct {
	Repository storage.ImageRepository
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

// Service lists the sandbox images built on this machine.
type Service struct {
	repo   storage.ImageRepository
	logger log.Logger
}

// NewService creates a new image list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Run lists the cached sandbox images.
func (s *Service) Run(ctx context.Context) ([]model.ImageRecord, error) {
	images, err := s.repo.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list images: %w", err)
	}

	s.logger.Debugf("Found %d cached images", len(images))
	return images, nil
}
