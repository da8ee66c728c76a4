package ctxutil

import (
	"context"
	"testing"
)

func TestEnsureTraceDataIsIdempotent(t *testing.T) {
	ctx := EnsureTraceData(context.Background(), "req-1")
	td := GetTraceData(ctx)
	if td == nil || td.TraceID == "" || td.RequestID != "req-1" {
		t.Fatalf("expected populated trace data, got %+v", td)
	}

	again := EnsureTraceData(ctx, "req-2")
	if GetTraceData(again).RequestID != "req-1" {
		t.Fatalf("expected existing trace data to be preserved, got %+v", GetTraceData(again))
	}
}

func TestEnsureTraceDataGeneratesFallbackIDs(t *testing.T) {
	ctx := EnsureTraceData(context.Background(), "")
	td := GetTraceData(ctx)
	if td.TraceID == "" || td.RequestID == "" {
		t.Fatalf("expected generated ids, got %+v", td)
	}
}
