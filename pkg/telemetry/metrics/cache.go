package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// CacheMetrics tracks rule cache performance.
//
// Metrics:
//   - gatekeeper_core_cache_hits_total{cache}
//   - gatekeeper_core_cache_misses_total{cache}
//   - gatekeeper_core_cache_invalidations_total{cache}
//
// Hit rate is derived in PromQL:
//
//	rate(gatekeeper_core_cache_hits_total{cache="rules"}[5m]) /
//	(rate(gatekeeper_core_cache_hits_total{cache="rules"}[5m]) +
//	 rate(gatekeeper_core_cache_misses_total{cache="rules"}[5m]))
type CacheMetrics struct {
	hitsTotal          *prometheus.CounterVec
	missesTotal        *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec
}

// NewCacheMetrics creates and registers cache metrics.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),

		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),

		invalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_invalidations_total",
				Help:      "Total number of explicit cache invalidations",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		cm.hitsTotal,
		cm.missesTotal,
		cm.invalidationsTotal,
	)

	return cm
}

// RecordHit records a cache hit.
func (cm *CacheMetrics) RecordHit(cacheName string) {
	cm.hitsTotal.WithLabelValues(cacheName).Inc()
}

// RecordMiss records a cache miss.
func (cm *CacheMetrics) RecordMiss(cacheName string) {
	cm.missesTotal.WithLabelValues(cacheName).Inc()
}

// RecordInvalidation records an invalidation.
func (cm *CacheMetrics) RecordInvalidation(cacheName string) {
	cm.invalidationsTotal.WithLabelValues(cacheName).Inc()
}
