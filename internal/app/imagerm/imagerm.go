// Package imagerm removes cached sandbox images from the engine and the
// manifest.
package imagerm

import (
	"context"
	"fmt"
	"strings"

	"github.com/gpurig/gpurig/internal/image"
	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage"
)

// ServiceConfig is the configuration for the image remove service.
type ServiceConfig struct {
	Builder    image.Builder
	Repository storage.ImageRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Builder == nil {
		return fmt.Errorf("builder is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ImageRm"})
	return nil
}

// Service removes a cached sandbox image: the tag goes away from the engine
// and the record from the manifest. The next task on that toolchain rebuilds.
type Service struct {
	builder image.Builder
	repo    storage.ImageRepository
	logger  log.Logger
}

// NewService creates a new image remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Service{
		builder: cfg.Builder,
		repo:    cfg.Repository,
		logger:  cfg.Logger,
	}, nil
}

// Request is the remove request parameters.
type Request struct {
	// Ref identifies the image: its tag, full digest or a digest prefix.
	Ref string
}

// Run removes a cached sandbox image.
func (s *Service) Run(ctx context.Context, req Request) (*model.ImageRecord, error) {
	if req.Ref == "" {
		return nil, fmt.Errorf("image ref is required: %w", model.ErrNotValid)
	}

	images, err := s.repo.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list images: %w", err)
	}

	rec, err := match(images, req.Ref)
	if err != nil {
		return nil, err
	}

	exists, err := s.builder.Exists(ctx, rec.Tag)
	if err != nil {
		return nil, fmt.Errorf("could not check image presence: %w", err)
	}
	if exists {
		if err := s.builder.Remove(ctx, rec.Tag); err != nil {
			return nil, fmt.Errorf("could not remove image %s: %w", rec.Tag, err)
		}
	} else {
		// A stale manifest entry, only the record needs to go.
		s.logger.Warningf("Image %s already gone from the engine", rec.Tag)
	}

	if err := s.repo.DeleteImage(ctx, rec.Digest); err != nil {
		return nil, fmt.Errorf("could not delete image manifest entry: %w", err)
	}

	s.logger.Infof("Removed image %s (toolchain %q)", rec.Tag, rec.Toolchain)
	return rec, nil
}

func match(images []model.ImageRecord, ref string) (*model.ImageRecord, error) {
	var found []model.ImageRecord
	for _, img := range images {
		if img.Tag == ref || img.Digest == ref || strings.HasPrefix(img.Digest, ref) {
			found = append(found, img)
		}
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("image %q: %w", ref, model.ErrNotFound)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("image ref %q matches %d images: %w", ref, len(found), model.ErrNotValid)
	}
}
