// Package metrics exposes the supplemental observability surface described
// in SPEC_FULL §12.1: queue depth, job duration, and retry counters behind
// an explicit *prometheus.Registry (never the global DefaultRegisterer),
// grounded on the registry-per-test-run pattern in the examples corpus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gauges/histograms/counters the Queue and Worker
// update during normal operation.
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth  *prometheus.GaugeVec
	JobDuration *prometheus.HistogramVec
	JobRetries  prometheus.Counter
}

// New constructs a Metrics with its own registry and registers every
// collector against it.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_queue_depth",
			Help: "Number of jobs currently queued, by priority.",
		}, []string{"priority"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "build_job_duration_seconds",
			Help:    "Wall-clock duration of a job attempt reaching a terminal state, labeled by outcome.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
		}, []string{"status"}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "build_job_retries_total",
			Help: "Total number of job attempts requeued for retry.",
		}),
	}

	reg.MustRegister(m.QueueDepth, m.JobDuration, m.JobRetries)
	return m
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveJobDuration records the wall-clock duration of one job attempt
// reaching a terminal state, labeled by outcome ("completed" or "failed")
// per SPEC_FULL §12.1.
func (m *Metrics) ObserveJobDuration(status string, seconds float64) {
	m.JobDuration.WithLabelValues(status).Observe(seconds)
}

// SetQueueDepth overwrites the queue-depth gauge for every priority present
// in depth, clearing priorities that are no longer present by resetting the
// whole vector first (avoids a stale gauge from a priority that just
// drained to zero).
func (m *Metrics) SetQueueDepth(depth map[int]int) {
	m.QueueDepth.Reset()
	for priority, count := range depth {
		m.QueueDepth.WithLabelValues(strconv.Itoa(priority)).Set(float64(count))
	}
}
