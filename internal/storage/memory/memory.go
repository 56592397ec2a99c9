package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.RunRepository and
// storage.ImageRepository. It backs ad-hoc runs and tests; the daemon uses the
// SQLite repository.
type Repository struct {
	runs   map[string]model.TaskRun
	images map[string]model.ImageRecord
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		runs:   make(map[string]model.TaskRun),
		images: make(map[string]model.ImageRecord),
		logger: cfg.Logger,
	}, nil
}

// CreateRun creates a new task run record.
func (r *Repository) CreateRun(ctx context.Context, run model.TaskRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("run with id %s: %w", run.ID, model.ErrAlreadyExists)
	}

	r.runs[run.ID] = run
	r.logger.Debugf("Created run in repository: %s", run.ID)

	return nil
}

// GetRun retrieves a task run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*model.TaskRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}

	// Return a copy
	runCopy := run
	return &runCopy, nil
}

// ListRuns returns task runs, newest first. A non-positive limit returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]model.TaskRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]model.TaskRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// UpdateRun updates an existing task run.
func (r *Repository) UpdateRun(ctx context.Context, run model.TaskRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	r.runs[run.ID] = run
	r.logger.Debugf("Updated run in repository: %s", run.ID)

	return nil
}

// CreateImage creates a new image cache record.
func (r *Repository) CreateImage(ctx context.Context, img model.ImageRecord) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("invalid image record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[img.Digest]; ok {
		return fmt.Errorf("image with digest %s: %w", img.Digest, model.ErrAlreadyExists)
	}

	r.images[img.Digest] = img
	r.logger.Debugf("Created image record in repository: %s", img.Digest)

	return nil
}

// GetImage retrieves an image record by template digest.
func (r *Repository) GetImage(ctx context.Context, digest string) (*model.ImageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, ok := r.images[digest]
	if !ok {
		return nil, fmt.Errorf("image %s: %w", digest, model.ErrNotFound)
	}

	imgCopy := img
	return &imgCopy, nil
}

// ListImages returns all image records, newest first.
func (r *Repository) ListImages(ctx context.Context) ([]model.ImageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	images := make([]model.ImageRecord, 0, len(r.images))
	for _, img := range r.images {
		images = append(images, img)
	}
	sort.Slice(images, func(i, j int) bool {
		if !images[i].CreatedAt.Equal(images[j].CreatedAt) {
			return images[i].CreatedAt.After(images[j].CreatedAt)
		}
		return images[i].Digest > images[j].Digest
	})

	return images, nil
}

// TouchImage refreshes an image record's last used timestamp.
func (r *Repository) TouchImage(ctx context.Context, digest string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, ok := r.images[digest]
	if !ok {
		return fmt.Errorf("image %s: %w", digest, model.ErrNotFound)
	}

	img.LastUsedAt = usedAt
	r.images[digest] = img

	return nil
}

// DeleteImage deletes an image record.
func (r *Repository) DeleteImage(ctx context.Context, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[digest]; !ok {
		return fmt.Errorf("image %s: %w", digest, model.ErrNotFound)
	}

	delete(r.images, digest)
	r.logger.Debugf("Deleted image record from repository: %s", digest)

	return nil
}
