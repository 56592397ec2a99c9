package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/metrics"
	"github.com/gpurig/gpurig/internal/model"
)

// Policy decides what happens to an admission request that cannot be granted
// right away.
type Policy string

const (
	// PolicyQueue queues contended requests FIFO until capacity frees up.
	PolicyQueue Policy = "queue"
	// PolicyReject fails contended requests immediately.
	PolicyReject Policy = "reject"
)

// Config is the configuration for the admission scheduler.
type Config struct {
	// Capability is the machine capability the capacity counters are computed
	// from. Always derived from configuration at startup, never restored from
	// a previous process.
	Capability model.MachineCapability
	Policy     Policy
	Metrics    metrics.Recorder
	Logger     log.Logger
}

func (c *Config) defaults() error {
	if err := c.Capability.Validate(); err != nil {
		return fmt.Errorf("invalid capability: %w", err)
	}
	if c.Policy == "" {
		c.Policy = PolicyQueue
	}
	if c.Policy != PolicyQueue && c.Policy != PolicyReject {
		return fmt.Errorf("unknown admission policy %q", c.Policy)
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "scheduler.Scheduler"})
	return nil
}

// Scheduler is the single source of truth for free GPU units and concurrent
// task slots on this machine. Every admission goes through Acquire and every
// grant is returned through Slot.Release; no component reads or adjusts
// capacity any other way.
type Scheduler struct {
	policy  Policy
	logger  log.Logger
	metrics metrics.Recorder

	mu           sync.Mutex
	freeGPUs     []model.GPUDevice
	totalGPUs    int
	freeWorkers  int
	totalWorkers int
	waiters      []*waiter
}

type waiter struct {
	req   model.CapabilityRequirement
	ready chan *Slot
}

// New creates a new admission scheduler with all capacity free.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	gpus := make([]model.GPUDevice, len(cfg.Capability.GPUs))
	copy(gpus, cfg.Capability.GPUs)

	s := &Scheduler{
		policy:       cfg.Policy,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		freeGPUs:     gpus,
		totalGPUs:    len(gpus),
		freeWorkers:  cfg.Capability.Workers,
		totalWorkers: cfg.Capability.Workers,
	}
	s.metrics.SetCapacity(len(gpus), s.totalGPUs, s.freeWorkers, s.totalWorkers)

	return s, nil
}

// Slot is a granted admission holding a worker slot and the bound GPU
// devices. Release must be called exactly once; releasing twice is a
// programming error and panics.
type Slot struct {
	scheduler *Scheduler
	gpus      []model.GPUDevice
	released  bool
}

// GPUs returns the devices granted to this slot.
func (s *Slot) GPUs() []model.GPUDevice {
	gpus := make([]model.GPUDevice, len(s.gpus))
	copy(gpus, s.gpus)
	return gpus
}

// Release returns the slot's capacity to the scheduler and wakes queued
// requests in FIFO order.
func (s *Slot) Release() {
	sch := s.scheduler

	sch.mu.Lock()
	defer sch.mu.Unlock()

	if s.released {
		panic("scheduler: admission slot released more than once")
	}
	s.released = true

	sch.reclaim(s.gpus)
	sch.logger.Debugf("Released slot with %d gpu units", len(s.gpus))
}

// Acquire requests an admission slot for the given requirement. Requests that
// can never be satisfied by this machine fail with ErrInsufficientCapacity
// regardless of policy. Contended requests queue FIFO (PolicyQueue) until
// granted or ctx is done, or fail immediately (PolicyReject).
func (s *Scheduler) Acquire(ctx context.Context, req model.CapabilityRequirement) (*Slot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	s.mu.Lock()

	if req.GPUs > s.totalGPUs {
		s.mu.Unlock()
		return nil, fmt.Errorf("task requires %d gpu units, machine declares %d: %w", req.GPUs, s.totalGPUs, model.ErrInsufficientCapacity)
	}

	// Grant right away only when nothing is queued ahead, so arrival order
	// holds under contention.
	if len(s.waiters) == 0 && s.fits(req) {
		slot := s.grant(req)
		s.mu.Unlock()
		s.metrics.ObserveAdmissionWait(time.Since(start))
		return slot, nil
	}

	if s.policy == PolicyReject {
		s.mu.Unlock()
		return nil, fmt.Errorf("no free capacity for %d gpu units: %w", req.GPUs, model.ErrInsufficientCapacity)
	}

	w := &waiter{req: req, ready: make(chan *Slot, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	s.logger.Debugf("Admission request for %d gpu units queued", req.GPUs)

	select {
	case slot := <-w.ready:
		s.metrics.ObserveAdmissionWait(time.Since(start))
		return slot, nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, queued := range s.waiters {
			if queued == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				return nil, ctx.Err()
			}
		}

		// The slot was granted concurrently with the cancellation. The grant
		// already went through the channel (buffered, sent under the lock), so
		// take it back and return its capacity.
		slot := <-w.ready
		slot.released = true
		s.reclaim(slot.gpus)
		return nil, ctx.Err()
	}
}

// Capacity returns the current capacity counters.
func (s *Scheduler) Capacity() (freeGPUs, totalGPUs, freeWorkers, totalWorkers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.freeGPUs), s.totalGPUs, s.freeWorkers, s.totalWorkers
}

// fits must be called with the lock held.
func (s *Scheduler) fits(req model.CapabilityRequirement) bool {
	return s.freeWorkers > 0 && len(s.freeGPUs) >= req.GPUs
}

// grant must be called with the lock held and the requirement known to fit.
func (s *Scheduler) grant(req model.CapabilityRequirement) *Slot {
	n := len(s.freeGPUs)
	gpus := make([]model.GPUDevice, req.GPUs)
	copy(gpus, s.freeGPUs[n-req.GPUs:])
	s.freeGPUs = s.freeGPUs[:n-req.GPUs]
	s.freeWorkers--

	s.metrics.SetCapacity(len(s.freeGPUs), s.totalGPUs, s.freeWorkers, s.totalWorkers)

	return &Slot{scheduler: s, gpus: gpus}
}

// reclaim must be called with the lock held.
func (s *Scheduler) reclaim(gpus []model.GPUDevice) {
	s.freeGPUs = append(s.freeGPUs, gpus...)
	s.freeWorkers++

	s.dispatch()
	s.metrics.SetCapacity(len(s.freeGPUs), s.totalGPUs, s.freeWorkers, s.totalWorkers)
}

// dispatch grants queued waiters in FIFO order while their requirements fit.
// The head of the queue blocks later waiters even if those would fit. Must be
// called with the lock held.
func (s *Scheduler) dispatch() {
	for len(s.waiters) > 0 {
		w := s.waiters[0]
		if !s.fits(w.req) {
			return
		}
		s.waiters = s.waiters[1:]
		w.ready <- s.grant(w.req)
	}
}
