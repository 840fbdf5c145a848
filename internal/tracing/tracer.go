package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the lifecycle of the OpenTelemetry tracer.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// NewTracerProvider creates an OTLP-exporting tracer provider. Only called
// when tracing.enabled is set; the pipeline runs untraced otherwise.
func NewTracerProvider(serviceName, serviceVersion, otlpEndpoint string) (*TracerProvider, error) {
	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(), // TODO: TLS for cross-cluster collectors
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.ServiceNamespaceKey.String("sentinelops"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans. Bounded by the caller's context.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// PipelineTracer provides distributed tracing for detection ticks. Spans
// are no-ops until a provider is registered, so the zero-config path costs
// nothing.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer creates a tracer for the tick pipeline.
func NewPipelineTracer() *PipelineTracer {
	return &PipelineTracer{tracer: otel.Tracer("sentinelops/pipeline")}
}

// StartTickSpan opens the root span of one tick run.
func (pt *PipelineTracer) StartTickSpan(ctx context.Context, tickID string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline_tick",
		trace.WithAttributes(
			attribute.String("tick.id", tickID),
			attribute.String("component", "scheduler"),
		),
	)
}

// StartStageSpan opens a child span for a pipeline stage (detector,
// correlator, runbooks, analyzer, incidents).
func (pt *PipelineTracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline_stage",
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.String("component", "pipeline"),
		),
	)
}

// RecordTickMetrics annotates the tick span with its outcome counters.
func (pt *PipelineTracer) RecordTickMetrics(span trace.Span, duration time.Duration, anomalies, incidents int, success bool) {
	span.SetAttributes(
		attribute.Int64("tick.duration_ms", duration.Milliseconds()),
		attribute.Int("tick.anomalies", anomalies),
		attribute.Int("tick.incidents", incidents),
		attribute.Bool("tick.success", success),
	)
	if !success {
		span.SetStatus(codes.Error, "tick aborted")
	}
}

// RecordError records an error on a span.
func (pt *PipelineTracer) RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
	span.RecordError(err)
}
