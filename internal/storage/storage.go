package storage

import (
	"context"
	"time"

	"github.com/gpurig/gpurig/internal/model"
)

// RunRepository is the interface for task run persistence.
type RunRepository interface {
	CreateRun(ctx context.Context, r model.TaskRun) error
	GetRun(ctx context.Context, id string) (*model.TaskRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.TaskRun, error)
	UpdateRun(ctx context.Context, r model.TaskRun) error
}

// ImageRepository is the interface for built sandbox image manifests.
type ImageRepository interface {
	CreateImage(ctx context.Context, img model.ImageRecord) error
	GetImage(ctx context.Context, digest string) (*model.ImageRecord, error)
	ListImages(ctx context.Context) ([]model.ImageRecord, error)
	TouchImage(ctx context.Context, digest string, usedAt time.Time) error
	DeleteImage(ctx context.Context, digest string) error
}
