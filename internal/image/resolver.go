package image

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/metrics"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage"
)

// Builder builds and manages sandbox images on the container engine.
type Builder interface {
	// Build builds an image from a Dockerfile and tags it.
	Build(ctx context.Context, tag, dockerfile string) error
	// Exists checks whether a tag is present on the engine.
	Exists(ctx context.Context, tag string) (bool, error)
	// Remove deletes a tag from the engine.
	Remove(ctx context.Context, tag string) error
}

// Resolver resolves a toolchain ID into a ready to use local image.
type Resolver interface {
	Resolve(ctx context.Context, toolchainID string) (model.ImageRef, error)
}

// TemplateResolverConfig is the configuration of TemplateResolver.
type TemplateResolverConfig struct {
	Catalog    *Catalog
	Builder    Builder
	Repository storage.ImageRepository
	Base       BaseSelection
	Metrics    metrics.Recorder
	Logger     log.Logger
}

func (c *TemplateResolverConfig) defaults() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.Builder == nil {
		return fmt.Errorf("builder is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "image.TemplateResolver"})

	return nil
}

// TemplateResolver renders toolchain templates into images, building them on
// the engine when the cache misses. Concurrent resolutions of the same
// template share a single build.
type TemplateResolver struct {
	catalog *Catalog
	builder Builder
	repo    storage.ImageRepository
	base    BaseSelection
	metrics metrics.Recorder
	logger  log.Logger
	group   singleflight.Group
}

// NewTemplateResolver creates a new template resolver.
func NewTemplateResolver(cfg TemplateResolverConfig) (*TemplateResolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &TemplateResolver{
		catalog: cfg.Catalog,
		builder: cfg.Builder,
		repo:    cfg.Repository,
		base:    cfg.Base,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// Resolve returns the local image for a toolchain, building it first if the
// cache has no entry for the rendered template.
func (r *TemplateResolver) Resolve(ctx context.Context, toolchainID string) (model.ImageRef, error) {
	tc, err := r.catalog.Get(toolchainID)
	if err != nil {
		return model.ImageRef{}, err
	}

	base := r.base.BaseImage(tc)
	dockerfile := RenderDockerfile(tc, base)
	digest := Digest(dockerfile)

	v, err, _ := r.group.Do(digest, func() (interface{}, error) {
		return r.resolve(ctx, tc, base, dockerfile, digest)
	})
	if err != nil {
		return model.ImageRef{}, err
	}

	return v.(model.ImageRef), nil
}

func (r *TemplateResolver) resolve(ctx context.Context, tc model.Toolchain, base, dockerfile, digest string) (model.ImageRef, error) {
	tag := conventions.ImageTag(digest)

	rec, err := r.repo.GetImage(ctx, digest)
	switch {
	case err == nil:
		exists, err := r.builder.Exists(ctx, rec.Tag)
		if err != nil {
			return model.ImageRef{}, fmt.Errorf("could not check image presence: %w", err)
		}
		if exists {
			if err := r.repo.TouchImage(ctx, digest, time.Now().UTC()); err != nil {
				r.logger.Warningf("Could not update image last use: %s", err)
			}
			r.metrics.IncImageBuild("cached")
			r.logger.Debugf("Image cache hit for toolchain %q: %s", tc.ID, rec.Tag)
			return model.ImageRef{Tag: rec.Tag, Digest: digest}, nil
		}
		// The manifest points at an image the engine no longer has.
		r.logger.Warningf("Image %s missing from engine, rebuilding", rec.Tag)
	case !errors.Is(err, model.ErrNotFound):
		return model.ImageRef{}, fmt.Errorf("could not read image manifest: %w", err)
	}

	r.logger.Infof("Building image %s for toolchain %q (base %s)", tag, tc.ID, base)
	start := time.Now()
	if err := r.builder.Build(ctx, tag, dockerfile); err != nil {
		r.metrics.IncImageBuild("error")
		return model.ImageRef{}, fmt.Errorf("%w: toolchain %q: %v", model.ErrImageBuild, tc.ID, err)
	}

	now := time.Now().UTC()
	if rec != nil {
		err = r.repo.TouchImage(ctx, digest, now)
	} else {
		err = r.repo.CreateImage(ctx, model.ImageRecord{
			Digest:     digest,
			Toolchain:  tc.ID,
			Tag:        tag,
			BaseImage:  base,
			CreatedAt:  now,
			LastUsedAt: now,
		})
	}
	if err != nil {
		// The image itself is usable, only the manifest lags.
		r.logger.Warningf("Could not persist image manifest: %s", err)
	}

	r.metrics.IncImageBuild("built")
	r.logger.Infof("Built image %s in %s", tag, time.Since(start).Round(time.Millisecond))

	return model.ImageRef{Tag: tag, Digest: digest}, nil
}
