package tracekit

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

// sequentialIDs yields predictable IDs: trace-1, span-1, span-2, ...
type sequentialIDs struct {
	traces atomic.Uint64
	spans  atomic.Uint64
}

func (s *sequentialIDs) TraceID() string {
	return fmt.Sprintf("trace-%d", s.traces.Add(1))
}

func (s *sequentialIDs) SpanID() string {
	return fmt.Sprintf("span-%d", s.spans.Add(1))
}

// fixedMemory is a deterministic MemorySampler.
var fixedMemory = MemorySamplerFunc(func() MemoryStats {
	return MemoryStats{HeapAlloc: 1024, HeapInuse: 2048, Sys: 4096, NumGC: 3, Goroutines: 7}
})

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ServiceName = "test-service"
	cfg.ExportTo = ExportNone
	return cfg
}

func newTestTracer(t *testing.T, clock clockz.Clock, opts ...Option) *Tracer {
	t.Helper()
	return newTestTracerWithConfig(t, testConfig(), clock, opts...)
}

func newTestTracerWithConfig(t *testing.T, cfg Config, clock clockz.Clock, opts ...Option) *Tracer {
	t.Helper()
	base := []Option{
		WithClock(clock),
		WithIDGenerator(&sequentialIDs{}),
		WithMemorySampler(fixedMemory),
	}
	tracer, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Close(context.Background()) })
	return tracer
}

// finishedTrace builds a completed trace lasting d.
func finishedTrace(t *testing.T, clock *clockz.FakeClock, ids IDGenerator, name string, d time.Duration) *Trace {
	t.Helper()
	trace := NewTrace(name, clock, ids)
	clock.Advance(d)
	require.NoError(t, trace.Finish(nil))
	return trace
}
