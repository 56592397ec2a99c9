package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/scheduler"
)

func capability(gpus, workers int) model.MachineCapability {
	devices := make([]model.GPUDevice, gpus)
	for i := range devices {
		devices[i] = model.GPUDevice{Index: i}
	}
	return model.MachineCapability{GPUs: devices, Workers: workers}
}

func newScheduler(t *testing.T, gpus, workers int, policy scheduler.Policy) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(scheduler.Config{
		Capability: capability(gpus, workers),
		Policy:     policy,
	})
	require.NoError(t, err)
	return s
}

func TestSchedulerAcquire(t *testing.T) {
	tests := map[string]struct {
		gpus    int
		workers int
		policy  scheduler.Policy
		req     model.CapabilityRequirement
		expErr  bool
	}{
		"A fitting request should be granted immediately.": {
			gpus: 2, workers: 2, policy: scheduler.PolicyQueue,
			req: model.CapabilityRequirement{GPUs: 1},
		},

		"A zero gpu request should be granted on a machine without gpus.": {
			gpus: 0, workers: 1, policy: scheduler.PolicyQueue,
			req: model.CapabilityRequirement{GPUs: 0},
		},

		"A request above the machine's total gpus should fail even when idle.": {
			gpus: 2, workers: 2, policy: scheduler.PolicyQueue,
			req:    model.CapabilityRequirement{GPUs: 3},
			expErr: true,
		},

		"A negative requirement should fail.": {
			gpus: 2, workers: 2, policy: scheduler.PolicyQueue,
			req:    model.CapabilityRequirement{GPUs: -1},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			s := newScheduler(t, test.gpus, test.workers, test.policy)
			slot, err := s.Acquire(context.Background(), test.req)

			if test.expErr {
				assert.Error(err)
				return
			}

			require.NoError(t, err)
			assert.Len(slot.GPUs(), test.req.GPUs)

			freeGPUs, totalGPUs, freeWorkers, _ := s.Capacity()
			assert.Equal(test.gpus-test.req.GPUs, freeGPUs)
			assert.Equal(test.gpus, totalGPUs)
			assert.Equal(test.workers-1, freeWorkers)

			slot.Release()

			freeGPUs, _, freeWorkers, _ = s.Capacity()
			assert.Equal(test.gpus, freeGPUs)
			assert.Equal(test.workers, freeWorkers)
		})
	}
}

func TestSchedulerRejectPolicy(t *testing.T) {
	assert := assert.New(t)

	s := newScheduler(t, 1, 2, scheduler.PolicyReject)

	held, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
	assert.ErrorIs(err, model.ErrInsufficientCapacity)

	held.Release()

	// Capacity freed up, a new request should be granted again.
	slot, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
	require.NoError(t, err)
	slot.Release()
}

func TestSchedulerZeroGPUTasksConsumeWorkerSlots(t *testing.T) {
	assert := assert.New(t)

	s := newScheduler(t, 2, 1, scheduler.PolicyReject)

	held, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 0})
	require.NoError(t, err)

	// GPUs are free but the single worker slot is taken.
	_, err = s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 0})
	assert.ErrorIs(err, model.ErrInsufficientCapacity)

	held.Release()
}

func TestSchedulerFIFOUnderContention(t *testing.T) {
	assert := assert.New(t)

	// Single gpu contended by three tasks: admissions must happen in arrival
	// order, one at a time.
	s := newScheduler(t, 1, 3, scheduler.PolicyQueue)

	first, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
	require.NoError(t, err)

	type granted struct {
		slot *scheduler.Slot
		err  error
	}

	secondCh := make(chan granted, 1)
	go func() {
		slot, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
		secondCh <- granted{slot: slot, err: err}
	}()
	time.Sleep(50 * time.Millisecond) // Let the second request queue first.

	thirdCh := make(chan granted, 1)
	go func() {
		slot, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
		thirdCh <- granted{slot: slot, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	// Nobody admitted while the first holds the gpu.
	select {
	case <-secondCh:
		t.Fatal("second task admitted while capacity was held")
	case <-thirdCh:
		t.Fatal("third task admitted while capacity was held")
	case <-time.After(100 * time.Millisecond):
	}

	first.Release()

	var second granted
	select {
	case second = <-secondCh:
	case <-time.After(2 * time.Second):
		t.Fatal("second task was not admitted after release")
	}
	require.NoError(t, second.err)

	// Third still waits: only one admission per free gpu.
	select {
	case <-thirdCh:
		t.Fatal("third task admitted before the second released")
	case <-time.After(100 * time.Millisecond):
	}

	second.slot.Release()

	var third granted
	select {
	case third = <-thirdCh:
	case <-time.After(2 * time.Second):
		t.Fatal("third task was not admitted after release")
	}
	require.NoError(t, third.err)
	third.slot.Release()

	freeGPUs, _, freeWorkers, _ := s.Capacity()
	assert.Equal(1, freeGPUs)
	assert.Equal(3, freeWorkers)
}

func TestSchedulerAcquireCancelledWhileQueued(t *testing.T) {
	assert := assert.New(t)

	s := newScheduler(t, 1, 2, scheduler.PolicyQueue)

	held, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx, model.CapabilityRequirement{GPUs: 1})
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled acquire did not return")
	}

	held.Release()

	// The cancelled waiter must not have leaked any capacity.
	freeGPUs, _, freeWorkers, _ := s.Capacity()
	assert.Equal(1, freeGPUs)
	assert.Equal(2, freeWorkers)
}

func TestSlotDoubleReleasePanics(t *testing.T) {
	s := newScheduler(t, 1, 1, scheduler.PolicyQueue)

	slot, err := s.Acquire(context.Background(), model.CapabilityRequirement{GPUs: 1})
	require.NoError(t, err)

	slot.Release()
	assert.Panics(t, func() { slot.Release() })
}

func TestSchedulerNeverOversubscribes(t *testing.T) {
	assert := assert.New(t)

	const (
		totalGPUs = 4
		tasks     = 40
	)

	s := newScheduler(t, totalGPUs, 8, scheduler.PolicyQueue)

	var (
		mu      sync.Mutex
		inUse   int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < tasks; i++ {
		req := model.CapabilityRequirement{GPUs: 1 + i%2}
		wg.Add(1)
		go func() {
			defer wg.Done()

			slot, err := s.Acquire(context.Background(), req)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}

			mu.Lock()
			inUse += len(slot.GPUs())
			if inUse > maxSeen {
				maxSeen = inUse
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inUse -= len(slot.GPUs())
			mu.Unlock()

			slot.Release()
		}()
	}

	wg.Wait()

	assert.LessOrEqual(maxSeen, totalGPUs)

	freeGPUs, _, freeWorkers, _ := s.Capacity()
	assert.Equal(totalGPUs, freeGPUs)
	assert.Equal(8, freeWorkers)
}
