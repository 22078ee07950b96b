package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span Attribute Helpers
//
// Custom attribute keys use the "turnstile.*" namespace:
//   - turnstile.tenant_id, turnstile.api_key_id: request identity
//   - turnstile.resource, turnstile.amount: what is being metered
//   - turnstile.decision.*: the admission outcome
//   - turnstile.stage: the pipeline stage that failed

// Common attribute keys used throughout the system
const (
	// Request attributes
	AttrRequestID = "turnstile.request_id"
	AttrTenantID  = "turnstile.tenant_id"
	AttrAPIKeyID  = "turnstile.api_key_id"
	AttrResource  = "turnstile.resource"
	AttrAmount    = "turnstile.amount"

	// Decision attributes
	AttrAdmitted = "turnstile.decision.admitted"
	AttrReason   = "turnstile.decision.reason"
	AttrOverage  = "turnstile.decision.overage"
	AttrFailOpen = "turnstile.decision.fail_open"
	AttrWindow   = "turnstile.decision.window"

	// Error attributes
	AttrStage        = "turnstile.stage"
	AttrErrorType    = "turnstile.error.type"
	AttrErrorMessage = "error.message"

	// Performance attributes
	AttrDuration = "turnstile.duration_ms"
)

// SetAdmissionAttributes sets the identity and resource of an admission request.
//
// Example:
//
//	SetAdmissionAttributes(span, "acme", "key-1", "api_call", 1)
func SetAdmissionAttributes(span trace.Span, tenantID, apiKeyID, resource string, amount int64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTenantID, tenantID),
		attribute.String(AttrResource, resource),
		attribute.Int64(AttrAmount, amount),
	}
	if apiKeyID != "" {
		attrs = append(attrs, attribute.String(AttrAPIKeyID, apiKeyID))
	}
	span.SetAttributes(attrs...)
}

// SetDecisionAttributes sets the admission outcome on a span.
func SetDecisionAttributes(span trace.Span, admitted bool, reason string, overage, failOpen bool) {
	span.SetAttributes(
		attribute.Bool(AttrAdmitted, admitted),
		attribute.String(AttrReason, reason),
		attribute.Bool(AttrOverage, overage),
		attribute.Bool(AttrFailOpen, failOpen),
	)
}

// SetWindowAttribute sets the rate window that blocked a request.
func SetWindowAttribute(span trace.Span, window string) {
	if window != "" {
		span.SetAttributes(attribute.String(AttrWindow, window))
	}
}

// SetErrorAttributes sets error-related attributes on a span.
// This also records the error using span.RecordError() and sets the span status.
//
// Example:
//
//	SetErrorAttributes(span, err, "quota")
func SetErrorAttributes(span trace.Span, err error, stage string) {
	if err == nil {
		return
	}

	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String(AttrStage, stage),
		attribute.String(AttrErrorMessage, err.Error()),
	)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetDurationAttribute sets the duration attribute on a span.
// Duration is recorded in milliseconds.
func SetDurationAttribute(span trace.Span, durationMs int64) {
	span.SetAttributes(attribute.Int64(AttrDuration, durationMs))
}

// AddEvent adds a named event to the span with optional attributes.
//
// Example:
//
//	AddEvent(span, "fail_open",
//	    attribute.String(AttrStage, "rate_limit"),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
