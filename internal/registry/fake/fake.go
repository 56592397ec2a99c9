// Package fake implements an in-memory registry client for development and
// tests. Tasks are handed out in the order they were queued and reports are
// recorded instead of transmitted.
package fake

import (
	"context"
	"sync"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
)

// ClientConfig is the configuration of Client.
type ClientConfig struct {
	// Tasks is the initial work queue.
	Tasks  []model.Task
	Logger log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Fake"})

	return nil
}

// Client is a fake registry.
type Client struct {
	logger log.Logger

	mu       sync.Mutex
	queue    []model.Task
	machines []model.MachineRecord
	reports  []model.TaskReport
}

// NewClient creates a new fake registry client.
func NewClient(cfg ClientConfig) (*Client, error) {
	_ = cfg.defaults()

	return &Client{
		logger: cfg.Logger,
		queue:  append([]model.Task{}, cfg.Tasks...),
	}, nil
}

func (c *Client) Register(_ context.Context, machine model.MachineRecord) error {
	if err := machine.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.machines = append(c.machines, machine)
	c.logger.Infof("Machine %q registered", machine.Name)

	return nil
}

func (c *Client) NextTask(_ context.Context) (*model.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil, nil
	}
	task := c.queue[0]
	c.queue = c.queue[1:]

	return &task, nil
}

func (c *Client) Report(_ context.Context, report model.TaskReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
	c.logger.Infof("Run %s reported (%s)", report.RunID, report.Outcome)

	return nil
}

// Enqueue adds a task to the work queue.
func (c *Client) Enqueue(task model.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, task)
}

// Machines returns the recorded registrations.
func (c *Client) Machines() []model.MachineRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.MachineRecord{}, c.machines...)
}

// Reports returns the recorded reports.
func (c *Client) Reports() []model.TaskReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.TaskReport{}, c.reports...)
}
