package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studygen"

// Job outcomes recorded by the worker
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics groups the Prometheus instruments used by the pipeline. All methods are
// safe on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	JobsProcessed      *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	SSRFBlocked        prometheus.Counter
	RateLimitDenied    *prometheus.CounterVec
	QueueReaped        prometheus.Counter
	VersionsPruned     prometheus.Counter
	Redispatched       prometheus.Counter
}

// NewMetrics registers the instruments with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Generation jobs by type and outcome.",
		}, []string{"type", "outcome"}),
		GenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent in the LLM backend per generation type.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"type"}),
		SSRFBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_blocked_total",
			Help:      "Outbound requests rejected by the address guard.",
		}),
		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Requests denied by the per-user limiter, by action class.",
		}, []string{"class"}),
		QueueReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_reaped_total",
			Help:      "Queue rows removed by the retention reaper.",
		}),
		VersionsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_pruned_total",
			Help:      "Content versions pruned beyond the retention count.",
		}),
		Redispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_redispatched_total",
			Help:      "Pending rows re-published by the sweeper.",
		}),
	}
}

func (m *Metrics) ObserveJob(genType, outcome string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(genType, outcome).Inc()
}

func (m *Metrics) ObserveGeneration(genType string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(genType).Observe(d.Seconds())
}

func (m *Metrics) ObserveBlocked() {
	if m == nil {
		return
	}
	m.SSRFBlocked.Inc()
}

func (m *Metrics) ObserveDenied(class string) {
	if m == nil {
		return
	}
	m.RateLimitDenied.WithLabelValues(class).Inc()
}

func (m *Metrics) AddReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.QueueReaped.Add(float64(n))
}

func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.VersionsPruned.Add(float64(n))
}

func (m *Metrics) AddRedispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Redispatched.Add(float64(n))
}

// MetricsHandler serves the default Prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
