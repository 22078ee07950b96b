package tracing

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/turnstile/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName is the name of the tracer used by turnstile packages.
const InstrumentationName = "turnstile"

// Tracer wraps the OpenTelemetry tracer provider.
type Tracer struct {
	config   *config.TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New creates a new Tracer with the given configuration.
//
// When tracing is enabled the SDK provider is installed as the global
// provider, so packages that call otel.Tracer (such as the admission
// gateway) export through it. When disabled, a noop tracer is returned.
//
// The tracer must be shut down when no longer needed:
//
//	defer tracer.Shutdown(context.Background())
func New(cfg *config.TracingConfig, version string) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}

	t := &Tracer{
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		t.tracer = noop.NewTracerProvider().Tracer(InstrumentationName)
		return t, nil
	}

	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}

	exporter, err := createExporter(cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	t.tracer = t.provider.Tracer(InstrumentationName)
	return t, nil
}

// Start creates a new span with the given name and options.
//
//	ctx, span := tracer.Start(ctx, "operation")
//	defer span.End()
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes any pending spans and shuts down the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Enabled returns whether tracing is enabled.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// createExporter creates a trace exporter based on the configuration.
// Only OTLP over gRPC is supported; Jaeger and Zipkin accept OTLP natively.
func createExporter(cfg *config.TracingConfig, version string) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp", "":
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent("turnstile/" + version)),
	}
	if cfg.OTLP.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.OTLP.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.OTLP.Timeout))
	}

	// The connection is established lazily; a missing collector does not
	// prevent startup.
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// SpanFromContext returns the current span from the context.
// If no span exists, a noop span is returned.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// TraceID returns the trace ID from the context as a string.
// Returns empty string if no trace context exists.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SetError marks the span as failed and records the error.
func SetError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String(AttrErrorMessage, err.Error()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
