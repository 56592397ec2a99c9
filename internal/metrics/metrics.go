package metrics

import "time"

// Recorder knows how to measure the internals of the daemon. Components take
// a Recorder in their config and never talk to a metrics backend directly.
type Recorder interface {
	// ObserveTaskRun records a finished task run with its terminal outcome.
	ObserveTaskRun(outcome string, duration time.Duration)
	// ObserveAdmissionWait records how long a task waited for a slot.
	ObserveAdmissionWait(duration time.Duration)
	// SetCapacity records the current admission capacity counters.
	SetCapacity(freeGPUs, totalGPUs, freeWorkers, totalWorkers int)
	// IncImageBuild records a sandbox image resolution ("built", "cached" or
	// "error").
	IncImageBuild(result string)
	// IncReportRetry records a failed report delivery that will be retried.
	IncReportRetry()
}

// Noop discards all measurements.
const Noop = noop(0)

type noop int

var _ Recorder = Noop

func (noop) ObserveTaskRun(string, time.Duration)  {}
func (noop) ObserveAdmissionWait(time.Duration)    {}
func (noop) SetCapacity(int, int, int, int)        {}
func (noop) IncImageBuild(string)                  {}
func (noop) IncReportRetry()                       {}
