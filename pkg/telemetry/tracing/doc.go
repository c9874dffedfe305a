// Package tracing provides OpenTelemetry tracing for gatekeeper.
//
// Spans are exported over OTLP gRPC or written to stdout, sampled with the
// configured always/never/ratio strategy wrapped in ParentBased.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "gatekeeper.guardrail.evaluate")
//	defer span.End()
//	tracing.SetSubjectAttributes(span, orgID, operatorID, "")
//
// A nil *Tracer yields noop spans.
package tracing
