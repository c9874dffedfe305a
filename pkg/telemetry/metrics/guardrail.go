package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// GuardrailMetrics tracks guardrail evaluation.
//
// Metrics:
//   - gatekeeper_core_guardrail_evaluations_total{action}
//   - gatekeeper_core_guardrail_evaluation_duration_seconds
//   - gatekeeper_core_guardrail_rule_matches_total{rule_id}
//   - gatekeeper_core_guardrail_reloads_total{result}
type GuardrailMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	ruleMatchesTotal   *prometheus.CounterVec
	reloadsTotal       *prometheus.CounterVec
}

// NewGuardrailMetrics creates and registers guardrail metrics.
func NewGuardrailMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GuardrailMetrics {
	gm := &GuardrailMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "guardrail_evaluations_total",
				Help:      "Total number of guardrail evaluations by final action",
			},
			[]string{"action"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "guardrail_evaluation_duration_seconds",
				Help:      "Duration of guardrail evaluation in seconds, including rule loading",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
		),

		ruleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "guardrail_rule_matches_total",
				Help:      "Total number of times a guardrail rule's conditions matched",
			},
			[]string{"rule_id"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "guardrail_reloads_total",
				Help:      "Total number of rule set reloads by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		gm.evaluationsTotal,
		gm.evaluationDuration,
		gm.ruleMatchesTotal,
		gm.reloadsTotal,
	)

	return gm
}

// RecordEvaluation records a completed evaluation.
func (gm *GuardrailMetrics) RecordEvaluation(action string, duration time.Duration) {
	gm.evaluationsTotal.WithLabelValues(action).Inc()
	gm.evaluationDuration.Observe(duration.Seconds())
}

// RecordMatch records a matched rule.
func (gm *GuardrailMetrics) RecordMatch(ruleID string) {
	gm.ruleMatchesTotal.WithLabelValues(ruleID).Inc()
}

// RecordReload records a reload outcome.
func (gm *GuardrailMetrics) RecordReload(result string) {
	gm.reloadsTotal.WithLabelValues(result).Inc()
}
