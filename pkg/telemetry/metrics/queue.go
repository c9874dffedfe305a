package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// QueueMetrics tracks the approval queue state machine.
//
// Metrics:
//   - gatekeeper_core_queue_transitions_total{from,to}
//   - gatekeeper_core_queue_resolution_latency_seconds{state}
//   - gatekeeper_core_queue_expired_total
//   - gatekeeper_core_queue_expiry_sweeps_total
type QueueMetrics struct {
	transitionsTotal  *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	expiredTotal      prometheus.Counter
	sweepsTotal       prometheus.Counter
}

// NewQueueMetrics creates and registers queue metrics.
func NewQueueMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *QueueMetrics {
	qm := &QueueMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "queue_transitions_total",
				Help:      "Total number of approval queue state transitions",
			},
			[]string{"from", "to"},
		),

		resolutionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "queue_resolution_latency_seconds",
				Help:      "Time from enqueue to terminal state in seconds",
				// Human review: one minute to one week.
				Buckets: []float64{60, 300, 900, 3600, 4 * 3600, 12 * 3600, 24 * 3600, 72 * 3600, 168 * 3600},
			},
			[]string{"state"},
		),

		expiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "queue_expired_total",
				Help:      "Total number of items expired by the sweep",
			},
		),

		sweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "queue_expiry_sweeps_total",
				Help:      "Total number of expiry sweeps run",
			},
		),
	}

	registry.MustRegister(
		qm.transitionsTotal,
		qm.resolutionLatency,
		qm.expiredTotal,
		qm.sweepsTotal,
	)

	return qm
}

// RecordTransition records a state change.
func (qm *QueueMetrics) RecordTransition(from, to string) {
	qm.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordLatency records the resolution latency for a terminal state.
func (qm *QueueMetrics) RecordLatency(state string, latency time.Duration) {
	qm.resolutionLatency.WithLabelValues(state).Observe(latency.Seconds())
}

// RecordSweep records one sweep run.
func (qm *QueueMetrics) RecordSweep(expired int) {
	qm.sweepsTotal.Inc()
	qm.expiredTotal.Add(float64(expired))
}
