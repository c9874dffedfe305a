// Package metrics provides Prometheus metrics for gatekeeper.
//
// A single Collector registers guardrail, queue, consensus and rule cache
// metrics on its own registry and is served by Handler at the configured
// path in run mode.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordGuardrailEvaluation("REQUIRE_QUORUM", 120*time.Microsecond, []string{"r1"})
//	collector.RecordQueueTransition("PENDING", "APPROVED")
//
// Rule IDs are label values and pass through a CardinalityLimiter; values
// beyond the limit are aggregated under "other".
package metrics
