package orchestratormock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/orchestrator"
)

// MockTaskRunner is a mock implementation of orchestrator.TaskRunner.
type MockTaskRunner struct {
	mock.Mock
}

func (m *MockTaskRunner) Run(ctx context.Context, task model.Task, opts orchestrator.RunOptions) (*model.TaskRun, error) {
	args := m.Called(ctx, task, opts)
	var r0 *model.TaskRun
	if v := args.Get(0); v != nil {
		r0 = v.(*model.TaskRun)
	}
	return r0, args.Error(1)
}
