package tracekit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextWithTrace(t *testing.T) {
	trace := NewTrace("root", clockz.NewFakeClock(), &sequentialIDs{})

	ctx := ContextWithTrace(context.Background(), trace)
	assert.Same(t, trace, TraceFromContext(ctx))

	assert.Nil(t, TraceFromContext(context.Background()))
	//nolint:staticcheck // nil context is supported
	assert.Nil(t, TraceFromContext(nil))
	//nolint:staticcheck // nil context is supported
	assert.Same(t, trace, TraceFromContext(ContextWithTrace(nil, trace)))
}

func TestInstrumentRecordsSpan(t *testing.T) {
	clock := clockz.NewFakeClock()
	tracer := newTestTracer(t, clock)
	trace := tracer.StartTrace("request")

	var seen *Trace
	err := tracer.Instrument(context.Background(), trace.ID(), "load-user", func(ctx context.Context) error {
		seen = TraceFromContext(ctx)
		assert.Equal(t, "load-user", seen.Current().Name)
		clock.Advance(40 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	assert.Same(t, trace, seen)
	assert.Equal(t, "request", trace.Current().Name)

	spans := trace.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanCompleted, spans[1].Status)
	assert.Equal(t, 40*time.Millisecond, spans[1].Duration)
}

func TestInstrumentReturnsOriginalError(t *testing.T) {
	tracer := newTestTracer(t, clockz.NewFakeClock())
	trace := tracer.StartTrace("request")
	boom := errors.New("not found")

	err := tracer.Instrument(context.Background(), trace.ID(), "db.lookup", func(context.Context) error {
		return boom
	})

	assert.Same(t, boom, err)
	span := trace.Spans()[1]
	assert.Equal(t, SpanError, span.Status)
	assert.Same(t, boom, span.Err)
}

func TestInstrumentRepanics(t *testing.T) {
	tracer := newTestTracer(t, clockz.NewFakeClock())
	trace := tracer.StartTrace("request")

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = tracer.Instrument(context.Background(), trace.ID(), "explode", func(context.Context) error {
			panic("kaboom")
		})
	})

	span := trace.Spans()[1]
	assert.Equal(t, SpanError, span.Status)
	assert.EqualError(t, span.Err, "panic: kaboom")
	assert.Equal(t, "request", trace.Current().Name)
}

func TestInstrumentWithoutTraceStillRuns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer := newTestTracer(t, clockz.NewFakeClock(), WithLogger(zap.New(core)))
	boom := errors.New("app error")

	calls := 0
	err := tracer.Instrument(context.Background(), "missing", "work", func(context.Context) error {
		calls++
		return boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, logs.FilterMessage("instrument without trace").Len())
}

func TestInstrumentOnFinishedTraceStillRuns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer := newTestTracer(t, clockz.NewFakeClock(), WithLogger(zap.New(core)))
	trace := tracer.StartTrace("request")
	require.NoError(t, trace.Finish(nil))

	calls := 0
	err := tracer.Instrument(context.Background(), trace.ID(), "late", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, logs.FilterMessage("instrument span not started").Len())
}

func TestInstrumentEndsOwnSpanWhenFnLeavesSpanOpen(t *testing.T) {
	clock := clockz.NewFakeClock()
	core, logs := observer.New(zap.WarnLevel)
	tracer := newTestTracer(t, clock, WithLogger(zap.New(core)))
	trace := tracer.StartTrace("request")
	boom := errors.New("partial write")

	err := tracer.Instrument(context.Background(), trace.ID(), "batch", func(ctx context.Context) error {
		_, startErr := TraceFromContext(ctx).StartSpan("db.insert")
		require.NoError(t, startErr)
		clock.Advance(10 * time.Millisecond)
		return boom
	})
	assert.Same(t, boom, err)

	spans := trace.Spans()
	require.Len(t, spans, 3)
	batch, insert := spans[1], spans[2]

	assert.Equal(t, SpanError, batch.Status)
	assert.Same(t, boom, batch.Err)
	assert.Equal(t, SpanCompleted, insert.Status)
	assert.Equal(t, "request", trace.Current().Name)
	assert.False(t, trace.Root().Ended())

	warnings := logs.FilterMessage("instrument span not current").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "batch", warnings[0].ContextMap()["span"])
	assert.Equal(t, "db.insert", warnings[0].ContextMap()["current"])
}

func TestInstrumentFnEndedOwnSpan(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer := newTestTracer(t, clockz.NewFakeClock(), WithLogger(zap.New(core)))
	trace := tracer.StartTrace("request")

	err := tracer.Instrument(context.Background(), trace.ID(), "self-closing", func(ctx context.Context) error {
		return TraceFromContext(ctx).EndSpan(nil)
	})
	require.NoError(t, err)

	assert.Equal(t, SpanCompleted, trace.Spans()[1].Status)
	// The root stays open: the instrumented span is not ended a second time.
	assert.False(t, trace.Root().Ended())
	assert.Equal(t, 1, logs.FilterMessage("instrument span not current").Len())
}
