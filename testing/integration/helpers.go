// Package integration exercises the tracer through its public API only.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tracekit"
)

// Harness bundles a tracer with a deterministic clock and a synchronous
// collector so tests can assert on exported records directly.
type Harness struct {
	Tracer    *tracekit.Tracer
	Collector *tracekit.Collector
	Clock     *clockz.FakeClock
}

// NewHarness builds a tracer that exports only to an in-memory collector.
func NewHarness(t *testing.T, mutate func(*tracekit.Config), opts ...tracekit.Option) *Harness {
	t.Helper()

	cfg := tracekit.DefaultConfig()
	cfg.ServiceName = "integration"
	cfg.ExportTo = tracekit.ExportNone
	if mutate != nil {
		mutate(&cfg)
	}

	collector := tracekit.NewCollector(1000)
	collector.SetSyncMode(true)
	clock := clockz.NewFakeClock()

	base := []tracekit.Option{
		tracekit.WithClock(clock),
		tracekit.WithExporter(collector),
		tracekit.WithMemorySampler(tracekit.MemorySamplerFunc(func() tracekit.MemoryStats {
			return tracekit.MemoryStats{HeapAlloc: 1 << 20, Goroutines: 1}
		})),
	}
	tracer, err := tracekit.New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Close(context.Background()) })

	return &Harness{Tracer: tracer, Collector: collector, Clock: clock}
}

// Step runs a timed child span under the trace's cursor.
func (h *Harness) Step(t *testing.T, traceID, name string, d time.Duration, err error) {
	t.Helper()
	_, startErr := h.Tracer.StartSpan(traceID, name)
	require.NoError(t, startErr)
	h.Clock.Advance(d)
	require.NoError(t, h.Tracer.EndSpan(traceID, err))
}
