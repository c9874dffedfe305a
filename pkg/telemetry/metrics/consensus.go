package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// ConsensusMetrics tracks voting, consensus and conflicts.
//
// Metrics:
//   - gatekeeper_core_votes_total{role,value,override}
//   - gatekeeper_core_consensus_checks_total{outcome}
//   - gatekeeper_core_conflicts_opened_total{type}
//   - gatekeeper_core_conflicts_resolved_total{type}
type ConsensusMetrics struct {
	votesTotal             *prometheus.CounterVec
	checksTotal            *prometheus.CounterVec
	conflictsOpenedTotal   *prometheus.CounterVec
	conflictsResolvedTotal *prometheus.CounterVec
}

// NewConsensusMetrics creates and registers consensus metrics.
func NewConsensusMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ConsensusMetrics {
	cm := &ConsensusMetrics{
		votesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "votes_total",
				Help:      "Total number of votes cast",
			},
			[]string{"role", "value", "override"},
		),

		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "consensus_checks_total",
				Help:      "Total number of consensus checks by outcome",
			},
			[]string{"outcome"},
		),

		conflictsOpenedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conflicts_opened_total",
				Help:      "Total number of conflicts opened",
			},
			[]string{"type"},
		),

		conflictsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conflicts_resolved_total",
				Help:      "Total number of conflicts resolved",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		cm.votesTotal,
		cm.checksTotal,
		cm.conflictsOpenedTotal,
		cm.conflictsResolvedTotal,
	)

	return cm
}

// RecordVote records a cast vote.
func (cm *ConsensusMetrics) RecordVote(role, value string, override bool) {
	cm.votesTotal.WithLabelValues(role, value, strconv.FormatBool(override)).Inc()
}

// RecordOutcome records a consensus check outcome.
func (cm *ConsensusMetrics) RecordOutcome(outcome string) {
	cm.checksTotal.WithLabelValues(outcome).Inc()
}

// RecordConflictOpened records a newly opened conflict.
func (cm *ConsensusMetrics) RecordConflictOpened(conflictType string) {
	cm.conflictsOpenedTotal.WithLabelValues(conflictType).Inc()
}

// RecordConflictResolved records a resolved conflict.
func (cm *ConsensusMetrics) RecordConflictResolved(conflictType string) {
	cm.conflictsResolvedTotal.WithLabelValues(conflictType).Inc()
}
