package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps an OpenTelemetry tracer with relay-specific span helpers.
// A nil *Tracer is valid and produces no-op spans.
type Tracer struct {
	provider      *sdktrace.TracerProvider
	tracer        trace.Tracer
	debugExporter *DebugExporter
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithDebugExporter keeps finished spans in memory.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) {
		t.debugExporter = exporter
	}
}

// NewTracer creates a Tracer and installs it as the global provider.
// It returns nil when tracing is disabled.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return newTracer(provider, cfg.ServiceName, opts...), nil
}

// NewTracerFromProvider wraps an existing SDK provider. Tests use it with
// an in-memory exporter.
func NewTracerFromProvider(provider *sdktrace.TracerProvider, opts ...TracerOption) *Tracer {
	return newTracer(provider, DefaultServiceName, opts...)
}

func newTracer(provider *sdktrace.TracerProvider, name string, opts ...TracerOption) *Tracer {
	t := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(name),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.debugExporter != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}
	return t
}

func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.IsInsecure() {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartSend begins a span for one engine exchange.
func (t *Tracer) StartSend(ctx context.Context, agent, fingerprint string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanSend,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrAgentName, agent),
			attribute.String(AttrFingerprint, fingerprint),
		),
	)
}

// StartPoll begins a span for the completion poll of a task.
func (t *Tracer) StartPoll(ctx context.Context, agent, taskID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanPoll,
		trace.WithAttributes(
			attribute.String(AttrAgentName, agent),
			attribute.String(AttrTaskID, taskID),
		),
	)
}

// StartExecute begins a span for server-side task execution.
func (t *Tracer) StartExecute(ctx context.Context, agent, taskID, contextID, mode string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanExecute,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrAgentName, agent),
			attribute.String(AttrTaskID, taskID),
			attribute.String(AttrContextID, contextID),
			attribute.String(AttrMode, mode),
		),
	)
}

// StartWorkflow begins a span for one supervisor workflow.
func (t *Tracer) StartWorkflow(ctx context.Context, contextID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanWorkflow,
		trace.WithAttributes(attribute.String(AttrContextID, contextID)),
	)
}

// StartToolCall begins a span for an MCP tool call.
func (t *Tracer) StartToolCall(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolCall,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrToolName, tool)),
	)
}

// RecordError marks span as failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the in-memory exporter, if configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
