package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// otherLabel replaces label values once the cardinality limit is reached.
const otherLabel = "other"

// Collector owns every gatekeeper Prometheus metric and exposes one
// recording method per event. All methods are safe on a nil Collector and
// no-ops when metrics are disabled, so engines can take an optional
// *Collector without guarding each call.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	guardrail *GuardrailMetrics
	queue     *QueueMetrics
	consensus *ConsensusMetrics
	cache     *CacheMetrics

	// Rule IDs come from operator-authored files, so they are bounded.
	ruleLimiter *CardinalityLimiter
}

// NewCollector creates a metrics collector. If registry is nil a fresh
// registry is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:      cfg,
		registry:    registry,
		guardrail:   NewGuardrailMetrics(cfg, registry),
		queue:       NewQueueMetrics(cfg, registry),
		consensus:   NewConsensusMetrics(cfg, registry),
		cache:       NewCacheMetrics(cfg, registry),
		ruleLimiter: NewCardinalityLimiter(1000),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordGuardrailEvaluation records one evaluation and the rules it matched.
func (c *Collector) RecordGuardrailEvaluation(action string, duration time.Duration, matchedRuleIDs []string) {
	if !c.enabled() {
		return
	}
	c.guardrail.RecordEvaluation(action, duration)
	for _, id := range matchedRuleIDs {
		if !c.ruleLimiter.Allow(id) {
			id = otherLabel
		}
		c.guardrail.RecordMatch(id)
	}
}

// RecordRuleReload records the outcome of a rule set reload ("success" or "error").
func (c *Collector) RecordRuleReload(result string) {
	if !c.enabled() {
		return
	}
	c.guardrail.RecordReload(result)
}

// RecordQueueTransition records a state change of an approval queue item.
// An empty from state marks a newly created item.
func (c *Collector) RecordQueueTransition(from, to string) {
	if !c.enabled() {
		return
	}
	if from == "" {
		from = "NEW"
	}
	c.queue.RecordTransition(from, to)
}

// RecordResolutionLatency records the time from enqueue to a terminal state.
func (c *Collector) RecordResolutionLatency(state string, latency time.Duration) {
	if !c.enabled() {
		return
	}
	c.queue.RecordLatency(state, latency)
}

// RecordExpirySweep records a sweep and the number of items it expired.
func (c *Collector) RecordExpirySweep(expired int) {
	if !c.enabled() {
		return
	}
	c.queue.RecordSweep(expired)
}

// RecordVote records a vote by role and value.
func (c *Collector) RecordVote(role, value string, override bool) {
	if !c.enabled() {
		return
	}
	c.consensus.RecordVote(role, value, override)
}

// RecordConsensus records a consensus check outcome ("APPROVED", "REJECTED" or "NONE").
func (c *Collector) RecordConsensus(outcome string) {
	if !c.enabled() {
		return
	}
	c.consensus.RecordOutcome(outcome)
}

// RecordConflictOpened records a newly opened conflict.
func (c *Collector) RecordConflictOpened(conflictType string) {
	if !c.enabled() {
		return
	}
	c.consensus.RecordConflictOpened(conflictType)
}

// RecordConflictResolved records a resolved conflict.
func (c *Collector) RecordConflictResolved(conflictType string) {
	if !c.enabled() {
		return
	}
	c.consensus.RecordConflictResolved(conflictType)
}

// RecordCacheHit records a rule cache hit.
func (c *Collector) RecordCacheHit(cacheName string) {
	if !c.enabled() {
		return
	}
	c.cache.RecordHit(cacheName)
}

// RecordCacheMiss records a rule cache miss.
func (c *Collector) RecordCacheMiss(cacheName string) {
	if !c.enabled() {
		return
	}
	c.cache.RecordMiss(cacheName)
}

// RecordCacheInvalidation records an explicit cache invalidation.
func (c *Collector) RecordCacheInvalidation(cacheName string) {
	if !c.enabled() {
		return
	}
	c.cache.RecordInvalidation(cacheName)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label values a metric
// may accumulate.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already tracked or still fits under the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
