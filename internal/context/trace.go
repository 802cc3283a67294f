// Package context carries the cross-cutting data of one confirmation run:
// trace identifiers for logs and spans, and the time budget that bounds
// every outbound call made while reconciling.
package context

import (
	stdcontext "context"

	"github.com/google/uuid"
)

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and spans
	SpanID  string            // Current span identifier
	Baggage map[string]string // Optional key-value flags (e.g., correlation data)

	stdCtx stdcontext.Context
}

// NewTraceContext creates a new TraceContext with a unique TraceID and an initial SpanID.
func NewTraceContext(parent stdcontext.Context) TraceContext {
	if parent == nil {
		parent = stdcontext.Background()
	}
	return TraceContext{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Baggage: make(map[string]string),
		stdCtx:  parent,
	}
}

// WithContext returns a copy bound to ctx, keeping the trace identifiers.
// Used after a span is started so children inherit it.
func (tc TraceContext) WithContext(ctx stdcontext.Context) TraceContext {
	tc.stdCtx = ctx
	return tc
}

// Context returns the standard context the trace is bound to.
func (tc TraceContext) Context() stdcontext.Context {
	if tc.stdCtx == nil {
		return stdcontext.Background()
	}
	return tc.stdCtx
}

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}

// LogAttrs returns the identifiers as slog key/value pairs.
func (tc TraceContext) LogAttrs() []any {
	return []any{"traceId", tc.TraceID, "spanId", tc.SpanID}
}
