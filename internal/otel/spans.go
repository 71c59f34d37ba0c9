package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for clawgate spans.
var (
	AttrChannel    = attribute.Key("clawgate.channel")
	AttrAccount    = attribute.Key("clawgate.account")
	AttrSenderID   = attribute.Key("clawgate.sender.id")
	AttrDecision   = attribute.Key("clawgate.access.decision")
	AttrSessionKey = attribute.Key("clawgate.session.key")
	AttrApprovalID = attribute.Key("clawgate.approval.id")
	AttrReason     = attribute.Key("clawgate.reason")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound message.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
