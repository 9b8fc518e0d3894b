package tracekit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// traceKeyType is a private type for context keys to avoid collisions.
type traceKeyType string

const traceKey traceKeyType = "tracekit"

// ContextWithTrace returns a context carrying the trace handle.
func ContextWithTrace(ctx context.Context, trace *Trace) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, trace)
}

// TraceFromContext extracts a trace handle stored by ContextWithTrace.
// Returns nil if no trace is present.
func TraceFromContext(ctx context.Context) *Trace {
	if ctx == nil {
		return nil
	}
	trace, _ := ctx.Value(traceKey).(*Trace)
	return trace
}

// Instrument runs fn inside a span named name of the identified trace.
// The span captures fn's error, and that same error is returned unchanged.
// Tracing failures are logged and never prevent fn from running.
// A panic in fn ends the span with an error and is re-raised.
func (t *Tracer) Instrument(ctx context.Context, traceID string, name Key, fn func(context.Context) error) (err error) {
	trace, lookupErr := t.activeTrace(traceID)
	if lookupErr != nil {
		t.logger.Warn("instrument without trace", zap.String("span", name), zap.Error(lookupErr))
		return fn(ctx)
	}

	span, startErr := trace.StartSpan(name)
	if startErr != nil {
		t.logger.Warn("instrument span not started", zap.String("span", name), zap.Error(startErr))
		return fn(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			t.endInstrumented(trace, span, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		t.endInstrumented(trace, span, err)
	}()

	return fn(ContextWithTrace(ctx, trace))
}

// endInstrumented ends span. Spans fn left open below it are ended first,
// so the cursor returns to span's parent.
func (t *Tracer) endInstrumented(trace *Trace, span *ActiveSpan, err error) {
	if current := trace.Current(); current.ID != span.ID() {
		t.logger.Warn("instrument span not current",
			zap.String("trace_id", trace.ID()),
			zap.String("span", span.Name()),
			zap.String("current", current.Name),
		)
		if span.Span().Ended() {
			return
		}
		for {
			current = trace.Current()
			if current.ID == span.ID() || current.IsRoot() {
				break
			}
			if endErr := trace.EndSpan(nil); endErr != nil {
				t.logger.Warn("open span not ended",
					zap.String("trace_id", trace.ID()),
					zap.String("span", current.Name),
					zap.Error(endErr),
				)
				return
			}
		}
		if current.ID != span.ID() {
			return
		}
	}

	if endErr := trace.EndSpan(err); endErr != nil {
		t.logger.Warn("instrument span not ended",
			zap.String("trace_id", trace.ID()),
			zap.String("span", span.Name()),
			zap.Error(endErr),
		)
	}
}
