// Package registry implements the machine's side of the coordination
// registry protocol: announcing the machine, polling for work and reporting
// results.
package registry

import (
	"context"

	"github.com/gpurig/gpurig/internal/model"
)

// Client talks to the coordination registry. Transient failures (unreachable
// registry, 5xx answers) are wrapped in model.ErrUnavailable so callers can
// retry them; anything else is permanent.
type Client interface {
	// Register announces the machine and its capability to the registry.
	Register(ctx context.Context, machine model.MachineRecord) error
	// NextTask asks the registry for work. A nil task without error means the
	// registry has nothing for this machine right now.
	NextTask(ctx context.Context) (*model.Task, error)
	// Report submits a finished run's result.
	Report(ctx context.Context, report model.TaskReport) error
}
