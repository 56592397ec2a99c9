package imagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gpurig/gpurig/internal/model"
)

// MockResolver is a mock implementation of image.Resolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, toolchainID string) (model.ImageRef, error) {
	args := m.Called(ctx, toolchainID)
	return args.Get(0).(model.ImageRef), args.Error(1)
}

// MockBuilder is a mock implementation of image.Builder.
type MockBuilder struct {
	mock.Mock
}

func (m *MockBuilder) Build(ctx context.Context, tag, dockerfile string) error {
	args := m.Called(ctx, tag, dockerfile)
	return args.Error(0)
}

func (m *MockBuilder) Exists(ctx context.Context, tag string) (bool, error) {
	args := m.Called(ctx, tag)
	return args.Bool(0), args.Error(1)
}

func (m *MockBuilder) Remove(ctx context.Context, tag string) error {
	args := m.Called(ctx, tag)
	return args.Error(0)
}
