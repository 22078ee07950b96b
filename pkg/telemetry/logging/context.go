package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// TenantIDKey is the context key for tenant identifiers.
	TenantIDKey contextKey = "tenant_id"

	// APIKeyIDKey is the context key for API key identifiers (never secrets).
	APIKeyIDKey contextKey = "api_key_id"

	// TraceIDKey is the context key for trace IDs.
	TraceIDKey contextKey = "trace_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithTenantID adds a tenant identifier to the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetTenantID retrieves the tenant identifier from the context.
func GetTenantID(ctx context.Context) string {
	return stringValue(ctx, TenantIDKey)
}

// WithAPIKeyID adds an API key identifier to the context.
func WithAPIKeyID(ctx context.Context, apiKeyID string) context.Context {
	return context.WithValue(ctx, APIKeyIDKey, apiKeyID)
}

// GetAPIKeyID retrieves the API key identifier from the context.
func GetAPIKeyID(ctx context.Context) string {
	return stringValue(ctx, APIKeyIDKey)
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context. An explicit value
// wins over the active OpenTelemetry span.
func GetTraceID(ctx context.Context) string {
	if id := stringValue(ctx, TraceIDKey); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
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

// extractContextFields extracts common fields from context for logging.
func extractContextFields(ctx context.Context) []slog.Attr {
	var fields []slog.Attr

	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, slog.String(string(RequestIDKey), v))
	}
	if v := GetTenantID(ctx); v != "" {
		fields = append(fields, slog.String(string(TenantIDKey), v))
	}
	if v := GetAPIKeyID(ctx); v != "" {
		fields = append(fields, slog.String(string(APIKeyIDKey), v))
	}
	if v := GetTraceID(ctx); v != "" {
		fields = append(fields, slog.String(string(TraceIDKey), v))
	}

	return fields
}

// ContextHandler adds request_id, tenant_id, api_key_id and trace_id from
// the context to every record logged with a *Context method.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if fields := extractContextFields(ctx); len(fields) > 0 {
		r = r.Clone()
		r.AddAttrs(fields...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
