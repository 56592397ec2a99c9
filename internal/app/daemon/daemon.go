// Package daemon is the long running service: it registers the machine,
// polls the registry for work and hands tasks to the orchestrator through a
// bounded worker pool.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/orchestrator"
	"github.com/gpurig/gpurig/internal/registry"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultPollMaxInterval = time.Minute
)

// ServiceConfig is the configuration for the daemon service.
type ServiceConfig struct {
	Registry registry.Client
	Runner   orchestrator.TaskRunner
	// Machine is the record announced to the registry. Its capability sizes
	// the worker pool.
	Machine model.MachineRecord
	// PollInterval is the base poll cadence. While idle the interval doubles
	// up to PollMaxInterval and resets as soon as work arrives.
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	Logger          log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if err := c.Machine.Validate(); err != nil {
		return fmt.Errorf("invalid machine record: %w", err)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = defaultPollMaxInterval
	}
	if c.PollMaxInterval < c.PollInterval {
		c.PollMaxInterval = c.PollInterval
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Daemon"})
	return nil
}

// Service is the daemon's main loop.
type Service struct {
	registry registry.Client
	runner   orchestrator.TaskRunner
	machine  model.MachineRecord

	pollInterval    time.Duration
	pollMaxInterval time.Duration
	logger          log.Logger
}

// NewService creates a new daemon service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		registry:        cfg.Registry,
		runner:          cfg.Runner,
		machine:         cfg.Machine,
		pollInterval:    cfg.PollInterval,
		pollMaxInterval: cfg.PollMaxInterval,
		logger:          cfg.Logger,
	}, nil
}

// Run registers the machine and polls for tasks until the context is
// cancelled. In flight runs finish their bookkeeping before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	workers := s.machine.Capability.Workers
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	interval := s.pollInterval
	s.logger.Infof("Polling for tasks every %s (%d workers)", interval, workers)

	for {
		// Only ask for work a worker can take right now.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return s.drain(&wg)
		}

		task, err := s.registry.NextTask(ctx)
		switch {
		case ctx.Err() != nil:
			<-sem
			return s.drain(&wg)
		case err != nil:
			<-sem
			if errors.Is(err, model.ErrUnavailable) {
				s.logger.Warningf("Registry unavailable, next poll in %s: %s", interval, err)
			} else {
				s.logger.Errorf("Could not poll for tasks, next poll in %s: %s", interval, err)
			}
		case task == nil:
			<-sem
			s.logger.Debugf("No work, next poll in %s", interval)
		default:
			wg.Add(1)
			go func(task model.Task) {
				defer wg.Done()
				defer func() { <-sem }()

				if _, err := s.runner.Run(ctx, task, orchestrator.RunOptions{}); err != nil {
					s.logger.Errorf("Run for task %s failed before execution: %s", task.ID, err)
				}
			}(*task)

			// Work arrived, poll again right away with the backoff reset.
			interval = s.pollInterval
			continue
		}

		if !sleep(ctx, interval) {
			return s.drain(&wg)
		}
		interval = s.nextInterval(interval)
	}
}

// register announces the machine, retrying while the registry is unreachable.
// Anything else than unavailability is a configuration problem and fatal.
func (s *Service) register(ctx context.Context) error {
	interval := s.pollInterval
	for {
		err := s.registry.Register(ctx, s.machine)
		if err == nil {
			s.logger.Infof("Machine %q registered (%d gpus, %d workers)", s.machine.Name, len(s.machine.Capability.GPUs), s.machine.Capability.Workers)
			return nil
		}
		if !errors.Is(err, model.ErrUnavailable) {
			return fmt.Errorf("could not register machine: %w", err)
		}

		s.logger.Warningf("Registry unavailable, retrying registration in %s: %s", interval, err)
		if !sleep(ctx, interval) {
			return ctx.Err()
		}
		interval = s.nextInterval(interval)
	}
}

func (s *Service) drain(wg *sync.WaitGroup) error {
	s.logger.Infof("Stopping, waiting for in flight runs")
	wg.Wait()
	s.logger.Infof("Daemon stopped")
	return nil
}

func (s *Service) nextInterval(current time.Duration) time.Duration {
	next := current * 2
	if next > s.pollMaxInterval {
		next = s.pollMaxInterval
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
