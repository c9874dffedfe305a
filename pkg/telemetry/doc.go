// Package telemetry groups gatekeeper's observability subpackages:
//
//   - logging: slog handler with context fields and secret redaction
//   - metrics: Prometheus collector for guardrail, queue and consensus events
//   - tracing: OpenTelemetry tracer with OTLP and stdout exporters
//   - health: liveness and readiness probes for the run daemon
//
// Each subpackage is configured from the telemetry section of config.Config.
package telemetry
