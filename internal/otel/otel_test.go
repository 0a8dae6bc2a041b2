package otel

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("init disabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil {
		t.Fatal("expected non-nil tracer (noop)")
	}
	if p.Meter == nil {
		t.Fatal("expected non-nil meter (noop)")
	}
}

func TestInitNoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("init with none exporter: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil || p.Tracer == nil {
		t.Fatal("expected tracer provider and tracer")
	}
}

func TestInitUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "magic"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestSpanHelpersRecordAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer(TracerName)

	_, span := StartSpan(context.Background(), tracer, "planner.apply_draft",
		AttrDraftID.String("d1"))
	span.End()
	_, span = StartServerSpan(context.Background(), tracer, "gateway.tool_call",
		AttrToolName.String("create_theme"))
	span.End()
	_, span = StartClientSpan(context.Background(), tracer, "llm.complete",
		AttrModel.String("gpt-4o-mini"), AttrCostUSD.Float64(0.01))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(ended))
	}
	if ended[0].Name() != "planner.apply_draft" {
		t.Fatalf("span name = %q", ended[0].Name())
	}
	found := false
	for _, attr := range ended[1].Attributes() {
		if attr.Key == AttrToolName && attr.Value.AsString() == "create_theme" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tool name attribute missing: %v", ended[1].Attributes())
	}
}

func TestTracerFallsBackToGlobalProvider(t *testing.T) {
	// Without an Init the global provider is the upstream no-op; starting a
	// span must still be safe.
	_, span := StartSpan(context.Background(), Tracer(), "noop.check")
	span.End()
}
