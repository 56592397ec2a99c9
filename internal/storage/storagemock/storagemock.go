package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gpurig/gpurig/internal/model"
)

// MockRunRepository is a mock implementation of storage.RunRepository.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateRun(ctx context.Context, r model.TaskRun) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRunRepository) GetRun(ctx context.Context, id string) (*model.TaskRun, error) {
	args := m.Called(ctx, id)
	var r0 *model.TaskRun
	if v := args.Get(0); v != nil {
		r0 = v.(*model.TaskRun)
	}
	return r0, args.Error(1)
}

func (m *MockRunRepository) ListRuns(ctx context.Context, limit int) ([]model.TaskRun, error) {
	args := m.Called(ctx, limit)
	var r0 []model.TaskRun
	if v := args.Get(0); v != nil {
		r0 = v.([]model.TaskRun)
	}
	return r0, args.Error(1)
}

func (m *MockRunRepository) UpdateRun(ctx context.Context, r model.TaskRun) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// MockImageRepository is a mock implementation of storage.ImageRepository.
type MockImageRepository struct {
	mock.Mock
}

func (m *MockImageRepository) CreateImage(ctx context.Context, img model.ImageRecord) error {
	args := m.Called(ctx, img)
	return args.Error(0)
}

func (m *MockImageRepository) GetImage(ctx context.Context, digest string) (*model.ImageRecord, error) {
	args := m.Called(ctx, digest)
	var r0 *model.ImageRecord
	if v := args.Get(0); v != nil {
		r0 = v.(*model.ImageRecord)
	}
	return r0, args.Error(1)
}

func (m *MockImageRepository) ListImages(ctx context.Context) ([]model.ImageRecord, error) {
	args := m.Called(ctx)
	var r0 []model.ImageRecord
	if v := args.Get(0); v != nil {
		r0 = v.([]model.ImageRecord)
	}
	return r0, args.Error(1)
}

func (m *MockImageRepository) TouchImage(ctx context.Context, digest string, usedAt time.Time) error {
	args := m.Called(ctx, digest, usedAt)
	return args.Error(0)
}

func (m *MockImageRepository) DeleteImage(ctx context.Context, digest string) error {
	args := m.Called(ctx, digest)
	return args.Error(0)
}
