// Package ctxutil carries per-invocation trace data through the engine's
// Leg 1 / Leg 2 handlers, the way the teacher's middleware carries it
// through a gin request.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// EnsureTraceData attaches TraceData to ctx if it doesn't already carry
// one, preferring the trace id of an active otel span and falling back to
// a fresh uuid (no HTTP header to read outside the client-facing API, so
// this is the engine-internal equivalent of the teacher's
// AttachTraceContext middleware).
func EnsureTraceData(ctx context.Context, requestID string) context.Context {
	if GetTraceData(ctx) != nil {
		return ctx
	}
	traceID := ""
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() {
		traceID = spanCtx.TraceID().String()
	}
	if traceID == "" {
		traceID = uuid.New().String()
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return WithTraceData(ctx, &TraceData{TraceID: traceID, RequestID: requestID})
}
