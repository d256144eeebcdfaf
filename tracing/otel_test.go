package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ledger"
)

func newTestTracer(t *testing.T) (*OTelTracer, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tracer := NewOTelTracer(Config{
		ServiceName:    "test-ledger",
		TracerProvider: tp,
	})
	return tracer, exporter, tp
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOTelTracer_StartOperation(t *testing.T) {
	tracer, exporter, tp := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "transfer", "A001", "A002")
	span.End()

	_ = tp.ForceFlush(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	s := spans[0]
	if s.Name != "ledger.transfer" {
		t.Errorf("expected span name 'ledger.transfer', got '%s'", s.Name)
	}

	if v, ok := attrValue(s.Attributes, "account.number"); !ok || v.AsString() != "A001" {
		t.Errorf("expected account.number 'A001', got %v", v)
	}
	if v, ok := attrValue(s.Attributes, "account.counterparty"); !ok || v.AsString() != "A002" {
		t.Errorf("expected account.counterparty 'A002', got %v", v)
	}
	if v, ok := attrValue(s.Attributes, "ledger.operation"); !ok || v.AsString() != "transfer" {
		t.Errorf("expected ledger.operation 'transfer', got %v", v)
	}
}

func TestOTelTracer_StartOperationWithoutAccount(t *testing.T) {
	tracer, exporter, tp := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "list")
	span.End()
	_ = tp.ForceFlush(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if _, ok := attrValue(spans[0].Attributes, "account.number"); ok {
		t.Error("account.number should not be set for list")
	}
}

func TestOTelTracer_StartStage(t *testing.T) {
	tracer, exporter, tp := newTestTracer(t)

	ctx, opSpan := tracer.StartOperation(context.Background(), "update", "A001")
	_, stageSpan := tracer.StartStage(ctx, "lock")
	stageSpan.End()
	opSpan.End()

	_ = tp.ForceFlush(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	var stage, op *tracetest.SpanStub
	for i := range spans {
		switch spans[i].Name {
		case "lock":
			stage = &spans[i]
		case "ledger.update":
			op = &spans[i]
		}
	}
	if stage == nil || op == nil {
		t.Fatal("expected both lock and ledger.update spans")
	}
	if stage.Parent.SpanID() != op.SpanContext.SpanID() {
		t.Error("stage span should be a child of the operation span")
	}
}

func TestOTelTracer_SpanSetError(t *testing.T) {
	tracer, exporter, tp := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "transfer", "A001", "A002")
	span.SetError(ledger.Errorf(ledger.KindInsufficientBalance, "balance 10 below 30"))
	span.End()

	_ = tp.ForceFlush(context.Background())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	s := spans[0]
	if s.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status.Code)
	}
	if v, ok := attrValue(s.Attributes, "error.kind"); !ok || v.AsString() != "INSUFFICIENT_BALANCE" {
		t.Errorf("expected error.kind INSUFFICIENT_BALANCE, got %v", v)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "exception" {
		t.Errorf("expected one exception event, got %v", s.Events)
	}
}

func TestOTelTracer_SpanSetErrorNil(t *testing.T) {
	tracer, exporter, tp := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "get", "A001")
	span.SetError(nil)
	span.End()
	_ = tp.ForceFlush(context.Background())

	if code := exporter.GetSpans()[0].Status.Code; code == codes.Error {
		t.Error("nil error should leave the status untouched")
	}
}

func TestOTelTracer_SpanAttributesAndEvents(t *testing.T) {
	tracer, exporter, tp := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "delete", "A001")
	span.SetAttributes(attribute.String("account.state", "FROZEN"))
	span.AddEvent("cas.applied", attribute.Int64("rows", 1))
	span.SetStatus(codes.Ok, "")
	span.End()

	_ = tp.ForceFlush(context.Background())

	s := exporter.GetSpans()[0]
	if v, ok := attrValue(s.Attributes, "account.state"); !ok || v.AsString() != "FROZEN" {
		t.Errorf("expected account.state FROZEN, got %v", v)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "cas.applied" {
		t.Errorf("expected cas.applied event, got %v", s.Events)
	}
	if s.Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", s.Status.Code)
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := &NoopTracer{}
	ctx := context.Background()

	// All methods should not panic
	ctx2, span := tracer.StartOperation(ctx, "transfer", "A001", "A002")
	if ctx2 != ctx {
		t.Error("noop tracer should return the same context")
	}
	span.SetError(errors.New("boom"))
	span.SetStatus(codes.Error, "boom")
	span.SetAttributes(attribute.String("k", "v"))
	span.AddEvent("event")
	span.End()

	_, stage := tracer.StartStage(ctx, "tx")
	stage.End()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "ledger" {
		t.Errorf("expected service name 'ledger', got '%s'", cfg.ServiceName)
	}
	if cfg.TracerProvider != nil {
		t.Error("expected nil tracer provider")
	}
}
