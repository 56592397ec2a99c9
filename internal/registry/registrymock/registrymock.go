package registrymock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gpurig/gpurig/internal/model"
)

// MockClient is a mock implementation of registry.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Register(ctx context.Context, machine model.MachineRecord) error {
	args := m.Called(ctx, machine)
	return args.Error(0)
}

func (m *MockClient) NextTask(ctx context.Context) (*model.Task, error) {
	args := m.Called(ctx)
	var r0 *model.Task
	if v := args.Get(0); v != nil {
		r0 = v.(*model.Task)
	}
	return r0, args.Error(1)
}

func (m *MockClient) Report(ctx context.Context, report model.TaskReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}
