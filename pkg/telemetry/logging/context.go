package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// OrgIDKey is the context key for organization identifiers.
	OrgIDKey contextKey = "org_id"

	// OperatorIDKey is the context key for the acting operator.
	OperatorIDKey contextKey = "operator_id"

	// ItemIDKey is the context key for approval queue item identifiers.
	ItemIDKey contextKey = "item_id"

	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
)

// WithOrgID adds an organization ID to the context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// OrgID retrieves the organization ID from the context.
func OrgID(ctx context.Context) string {
	return stringValue(ctx, OrgIDKey)
}

// WithOperatorID adds the acting operator to the context.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, OperatorIDKey, operatorID)
}

// OperatorID retrieves the acting operator from the context.
func OperatorID(ctx context.Context) string {
	return stringValue(ctx, OperatorIDKey)
}

// WithItemID adds a queue item ID to the context.
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, ItemIDKey, itemID)
}

// ItemID retrieves the queue item ID from the context.
func ItemID(ctx context.Context) string {
	return stringValue(ctx, ItemIDKey)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextAttrs extracts common fields from context for logging, including
// the trace and span IDs of an active OpenTelemetry span.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	for _, key := range []contextKey{RequestIDKey, OrgIDKey, OperatorIDKey, ItemIDKey} {
		if v := stringValue(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return attrs
}
