package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	if got := TraceID(context.Background()); got != "-" {
		t.Fatalf("absent trace id must read as -, got %q", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc-123")
	if got := TraceID(ctx); got != "abc-123" {
		t.Fatalf("got %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == "" || a == b {
		t.Fatalf("trace ids must be unique and non-empty: %q %q", a, b)
	}
}

func TestChannelAndSessionKey(t *testing.T) {
	ctx := WithChannel(context.Background(), "telegram")
	ctx = WithSessionKey(ctx, "telegram:dm:42")
	if Channel(ctx) != "telegram" {
		t.Fatalf("got channel %q", Channel(ctx))
	}
	if SessionKey(ctx) != "telegram:dm:42" {
		t.Fatalf("got session key %q", SessionKey(ctx))
	}
	if Channel(context.Background()) != "" || SessionKey(context.Background()) != "" {
		t.Fatalf("absent values must read as empty")
	}
}
