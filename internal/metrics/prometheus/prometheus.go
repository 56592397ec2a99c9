package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gpurig/gpurig/internal/metrics"
)

const namespace = "gpurig"

// Recorder is a Prometheus implementation of metrics.Recorder.
type Recorder struct {
	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	admissionWait prometheus.Histogram
	gpusFree      prometheus.Gauge
	gpusTotal     prometheus.Gauge
	workersFree   prometheus.Gauge
	workersTotal  prometheus.Gauge
	imageBuilds   *prometheus.CounterVec
	reportRetries prometheus.Counter
}

// NewRecorder creates a new Prometheus recorder and registers its collectors.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total finished task runs by terminal outcome.",
		}, []string{"outcome"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task runs.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"outcome"}),

		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time tasks waited for an admission slot.",
			Buckets:   []float64{.01, .1, 1, 10, 60, 300, 1800},
		}),

		gpusFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_units_free",
			Help:      "GPU units currently free.",
		}),
		gpusTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_units_total",
			Help:      "GPU units declared by the machine.",
		}),
		workersFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_slots_free",
			Help:      "Concurrent task slots currently free.",
		}),
		workersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_slots_total",
			Help:      "Concurrent task slots declared by the machine.",
		}),

		imageBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_resolutions_total",
			Help:      "Sandbox image resolutions by result.",
		}, []string{"result"}),

		reportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_retries_total",
			Help:      "Result report deliveries that failed and were retried.",
		}),
	}

	reg.MustRegister(
		r.taskRuns,
		r.taskDuration,
		r.admissionWait,
		r.gpusFree,
		r.gpusTotal,
		r.workersFree,
		r.workersTotal,
		r.imageBuilds,
		r.reportRetries,
	)

	return r
}

func (r *Recorder) ObserveTaskRun(outcome string, duration time.Duration) {
	r.taskRuns.WithLabelValues(outcome).Inc()
	r.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (r *Recorder) ObserveAdmissionWait(duration time.Duration) {
	r.admissionWait.Observe(duration.Seconds())
}

func (r *Recorder) SetCapacity(freeGPUs, totalGPUs, freeWorkers, totalWorkers int) {
	r.gpusFree.Set(float64(freeGPUs))
	r.gpusTotal.Set(float64(totalGPUs))
	r.workersFree.Set(float64(freeWorkers))
	r.workersTotal.Set(float64(totalWorkers))
}

func (r *Recorder) IncImageBuild(result string) {
	r.imageBuilds.WithLabelValues(result).Inc()
}

func (r *Recorder) IncReportRetry() {
	r.reportRetries.Inc()
}
