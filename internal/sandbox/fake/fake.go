package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox"
)

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Delay simulates step duration.
	Delay time.Duration
	// ExitCode is the exit code every step finishes with.
	ExitCode int
	Logger   log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Fake"})
	return nil
}

// Engine is a fake implementation of the sandbox.Engine interface. It
// simulates step execution without touching a container engine.
type Engine struct {
	delay    time.Duration
	exitCode int
	mu       sync.Mutex
	runs     []sandbox.RunRequest
	logger   log.Logger
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		delay:    cfg.Delay,
		exitCode: cfg.ExitCode,
		logger:   cfg.Logger,
	}, nil
}

// Run simulates a step execution.
func (e *Engine) Run(ctx context.Context, req sandbox.RunRequest) (*model.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.runs = append(e.runs, req)
	e.mu.Unlock()

	start := time.Now()
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.Infof("Executed fake step %s for run %s: %v", req.Step, req.RunID, req.Command)

	output := sandbox.NewOutputBuffer(req.OutputLimit)
	fmt.Fprintf(output, "fake output for: %v\n", req.Command)

	result := &model.ExecutionResult{
		Outcome:         model.OutcomeSucceeded,
		ExitCode:        e.exitCode,
		Output:          output.Bytes(),
		OutputTruncated: output.Truncated(),
		Duration:        time.Since(start),
	}
	if e.exitCode != 0 {
		result.Outcome = model.OutcomeFailed
	}

	return result, nil
}

// Check always reports a ready engine.
func (e *Engine) Check(_ context.Context) []model.CheckResult {
	return []model.CheckResult{
		{
			ID:      "fake_engine",
			Status:  model.CheckStatusOK,
			Message: "Fake engine is always ready",
		},
	}
}

// Runs returns the run requests seen so far.
func (e *Engine) Runs() []sandbox.RunRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sandbox.RunRequest(nil), e.runs...)
}
