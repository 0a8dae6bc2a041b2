package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Daybreak spans.
var (
	AttrTaskID        = attribute.Key("daybreak.task.id")
	AttrTaskTrigger   = attribute.Key("daybreak.task.trigger")
	AttrToolName      = attribute.Key("daybreak.tool.name")
	AttrModel         = attribute.Key("daybreak.llm.model")
	AttrCostUSD       = attribute.Key("daybreak.llm.cost_usd")
	AttrCorrelationID = attribute.Key("daybreak.correlation.id")
	AttrDraftID       = attribute.Key("daybreak.plan.draft_id")
	AttrActionType    = attribute.Key("daybreak.action.type")
)

// Tracer returns a tracer from the globally registered provider. Before Init
// runs (or when telemetry is disabled) this is the upstream no-op tracer.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound tool-call request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (model API, calendar).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
