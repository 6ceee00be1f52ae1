// Package telemetry wires OpenTelemetry tracing and Prometheus metrics
// around the orchestrator's cycle, ticket, and QA phases.
//
// Spans use a wheelwright. attribute prefix. Tracing is OTLP/gRPC when
// OTEL_EXPORTER_OTLP_ENDPOINT (or an explicit endpoint) is set, and falls
// back to a stdout exporter for local runs so spans are still visible
// without a collector.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "wheelwright.dev/orchestrator"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider installs the global trace provider. With a non-empty
// endpoint it exports via OTLP/gRPC; otherwise it exports to stdout so
// spans remain visible during local development. The returned function
// flushes and shuts the provider down on exit.
func InitTraceProvider(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	exporter, err := newExporter(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("wheelwright"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exporter, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// StartCycleSpan opens the parent span for one orchestrator cycle.
func StartCycleSpan(ctx context.Context, cycleCount int, phase string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "cycle.run",
		trace.WithAttributes(
			attribute.Int("wheelwright.cycle_count", cycleCount),
			attribute.String("wheelwright.session_phase", phase),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndCycleSpan enriches the cycle span with its outcome and ends it.
func EndCycleSpan(span trace.Span, ticketsCompleted int, shutdownReason string) {
	span.SetAttributes(
		attribute.Int("wheelwright.tickets_completed", ticketsCompleted),
	)
	if shutdownReason != "" {
		span.SetAttributes(attribute.String("wheelwright.shutdown_reason", shutdownReason))
	}
	span.End()
}

// StartTicketSpan opens a child span for one ticket's FSM walk.
func StartTicketSpan(ctx context.Context, ticketID string, category string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ticket.run",
		trace.WithAttributes(
			attribute.String("wheelwright.ticket_id", ticketID),
			attribute.String("wheelwright.category", category),
		),
	)
}

// EndTicketSpan records the ticket's terminal phase.
func EndTicketSpan(span trace.Span, phase string) {
	span.SetAttributes(attribute.String("wheelwright.ticket_phase", phase))
	span.End()
}

// StartQASpan opens a child span for one QA command run.
func StartQASpan(ctx context.Context, ticketID, command string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ticket.qa",
		trace.WithAttributes(
			attribute.String("wheelwright.ticket_id", ticketID),
			attribute.String("wheelwright.qa_command", command),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndQASpan enriches the QA span with pass/fail and ends it.
func EndQASpan(span trace.Span, passed bool, errorClass string) {
	span.SetAttributes(attribute.Bool("wheelwright.qa_passed", passed))
	if errorClass != "" {
		span.SetAttributes(attribute.String("wheelwright.qa_error_class", errorClass))
	}
	span.End()
}

// StartSpindleCheckSpan opens a child span for one loop-detector check.
func StartSpindleCheckSpan(ctx context.Context, ticketID string, turn int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ticket.spindle_check",
		trace.WithAttributes(
			attribute.String("wheelwright.ticket_id", ticketID),
			attribute.Int("wheelwright.turn", turn),
		),
	)
}

// EndSpindleCheckSpan records whether the loop detector tripped.
func EndSpindleCheckSpan(span trace.Span, aborted bool, reason string) {
	span.SetAttributes(attribute.Bool("wheelwright.spindle_aborted", aborted))
	if reason != "" {
		span.SetAttributes(attribute.String("wheelwright.spindle_reason", reason))
	}
	span.End()
}
