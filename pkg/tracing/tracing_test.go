package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInit_DisabledReturnsNoopProvider(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil provider")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown should not fail: %v", err)
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// With no tracer provider configured the span is a no-op but still usable.
	_, span := StartSpan(ctx, "call.initiate")
	if span == nil {
		t.Error("expected non-nil span")
	}
	span.End()
}

func TestAddSpanAttributes(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "call.accept")
	defer span.End()

	AddSpanAttributes(ctx,
		attribute.String("call.id", "call-1"),
		attribute.Int("attempt", 1),
	)
}

func TestRecordError(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "call.end")
	defer span.End()

	RecordError(ctx, errors.New("signaling down"))
}
