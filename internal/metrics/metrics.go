// Package metrics exposes Prometheus collectors for jobs, pipeline stages
// and frames, and a small HTTP server serving them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/pipeline"
	"github.com/maauso/faceswap-api/internal/worker"
)

const namespace = "faceswap"

// Metrics holds the collectors. It implements pipeline.Observer and
// worker.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	JobsProcessed   *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	FramesProcessed prometheus.Counter
	FramesSkipped   prometheus.Counter
	ActiveJobs      prometheus.Gauge
	QueueDepth      prometheus.Gauge
}

var (
	_ pipeline.Observer = (*Metrics)(nil)
	_ worker.Recorder   = (*Metrics)(nil)
)

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed, by final status",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to terminal state",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of job and pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of frames written to output videos",
		}),
		FramesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Total number of undecodable frames skipped",
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently being processed",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of queued jobs seen at the last poll",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobStarted implements worker.Recorder.
func (m *Metrics) JobStarted() {
	m.ActiveJobs.Inc()
}

// JobFinished implements worker.Recorder.
func (m *Metrics) JobFinished(status job.Status, d time.Duration) {
	m.ActiveJobs.Dec()
	m.JobsProcessed.WithLabelValues(string(status)).Inc()
	m.JobDuration.Observe(d.Seconds())
}

// ObserveStage implements pipeline.Observer and worker.Recorder.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// FrameProcessed implements pipeline.Observer.
func (m *Metrics) FrameProcessed() {
	m.FramesProcessed.Inc()
}

// FrameSkipped implements pipeline.Observer.
func (m *Metrics) FrameSkipped() {
	m.FramesSkipped.Inc()
}

// SetQueueDepth implements worker.Recorder.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
