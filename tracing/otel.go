// Package tracing provides OpenTelemetry tracing for ledger operations.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger"
)

// Tracer defines the interface for distributed tracing.
type Tracer interface {
	// StartOperation starts the span of a public operation, named "ledger.<op>".
	StartOperation(ctx context.Context, op string, accountNumbers ...string) (context.Context, Span)

	// StartStage starts a child span for one stage of an operation, such as
	// "lock" or "tx".
	StartStage(ctx context.Context, stage string) (context.Context, Span)
}

// Span represents an active tracing span.
type Span interface {
	// End completes the span.
	End()

	// SetError marks the span as having an error.
	SetError(err error)

	// SetStatus sets the span status.
	SetStatus(code codes.Code, description string)

	// SetAttributes adds attributes to the span.
	SetAttributes(attrs ...attribute.KeyValue)

	// AddEvent adds an event to the span.
	AddEvent(name string, attrs ...attribute.KeyValue)
}

// OTelTracer implements Tracer using OpenTelemetry.
type OTelTracer struct {
	tracer trace.Tracer
}

var _ Tracer = (*OTelTracer)(nil)

// Config holds configuration for OTelTracer.
type Config struct {
	// ServiceName is the name of the service for tracing.
	ServiceName string
	// TracerProvider is the OpenTelemetry tracer provider. If nil, the global provider is used.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "ledger",
		TracerProvider: nil,
	}
}

// NewOTelTracer creates a new OTelTracer with the given configuration.
func NewOTelTracer(cfg Config) *OTelTracer {
	var tp trace.TracerProvider
	if cfg.TracerProvider != nil {
		tp = cfg.TracerProvider
	} else {
		tp = otel.GetTracerProvider()
	}

	return &OTelTracer{
		tracer: tp.Tracer(cfg.ServiceName),
	}
}

// StartOperation starts the span of a public operation. The first account
// number is recorded as account.number, a second one as account.counterparty.
func (t *OTelTracer) StartOperation(ctx context.Context, op string, accountNumbers ...string) (context.Context, Span) {
	attrs := []attribute.KeyValue{attribute.String("ledger.operation", op)}
	if len(accountNumbers) > 0 {
		attrs = append(attrs, attribute.String("account.number", accountNumbers[0]))
	}
	if len(accountNumbers) > 1 {
		attrs = append(attrs, attribute.String("account.counterparty", accountNumbers[1]))
	}

	ctx, span := t.tracer.Start(ctx, "ledger."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, &otelSpan{span: span}
}

// StartStage starts a child span for a stage within an operation.
func (t *OTelTracer) StartStage(ctx context.Context, stage string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, stage,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, &otelSpan{span: span}
}

// otelSpan wraps an OpenTelemetry span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

// SetError records err and tags the span with its error kind.
func (s *otelSpan) SetError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetAttributes(attribute.String("error.kind", ledger.KindOf(err).String()))
		s.span.SetStatus(codes.Error, err.Error())
	}
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// NoopTracer is a no-op implementation of Tracer for testing or when tracing is disabled.
type NoopTracer struct{}

var _ Tracer = (*NoopTracer)(nil)

func (n *NoopTracer) StartOperation(ctx context.Context, op string, accountNumbers ...string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

func (n *NoopTracer) StartStage(ctx context.Context, stage string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

// noopSpan is a no-op span implementation.
type noopSpan struct{}

func (s *noopSpan) End()                                              {}
func (s *noopSpan) SetError(err error)                                {}
func (s *noopSpan) SetStatus(code codes.Code, description string)     {}
func (s *noopSpan) SetAttributes(attrs ...attribute.KeyValue)         {}
func (s *noopSpan) AddEvent(name string, attrs ...attribute.KeyValue) {}
