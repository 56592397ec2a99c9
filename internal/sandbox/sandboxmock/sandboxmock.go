package sandboxmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox"
)

// MockEngine is a mock implementation of sandbox.Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Check(ctx context.Context) []model.CheckResult {
	args := m.Called(ctx)
	var r0 []model.CheckResult
	if v := args.Get(0); v != nil {
		r0 = v.([]model.CheckResult)
	}
	return r0
}

func (m *MockEngine) Run(ctx context.Context, req sandbox.RunRequest) (*model.ExecutionResult, error) {
	args := m.Called(ctx, req)
	var r0 *model.ExecutionResult
	if v := args.Get(0); v != nil {
		r0 = v.(*model.ExecutionResult)
	}
	return r0, args.Error(1)
}
