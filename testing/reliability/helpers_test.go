package reliability

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/tracekit"
)

// buildTrace builds a completed trace with a chain of child spans.
func buildTrace(name string, children int) (*tracekit.Trace, error) {
	trace := tracekit.NewTrace(name, nil, tracekit.UUIDs{})
	for i := 0; i < children; i++ {
		span, err := trace.StartSpan(fmt.Sprintf("db.query.%d", i))
		if err != nil {
			return nil, err
		}
		span.SetAttribute(tracekit.QueryAttribute, "SELECT * FROM orders WHERE id = ?")
		if err := trace.EndSpan(nil); err != nil {
			return nil, err
		}
	}
	if err := trace.EndSpan(nil); err != nil {
		return nil, err
	}
	return trace, trace.Finish(nil)
}

func finishedTrace(t *testing.T, name string, children int) *tracekit.Trace {
	t.Helper()
	trace, err := buildTrace(name, children)
	require.NoError(t, err)
	return trace
}

// newTracer builds a tracer that exports nowhere but the given exporters.
func newTracer(t *testing.T, capacity int, exporters ...tracekit.Exporter) *tracekit.Tracer {
	t.Helper()

	cfg := tracekit.DefaultConfig()
	cfg.ServiceName = "reliability"
	cfg.ExportTo = tracekit.ExportNone
	cfg.StoreCapacity = capacity

	opts := make([]tracekit.Option, 0, len(exporters))
	for _, e := range exporters {
		opts = append(opts, tracekit.WithExporter(e))
	}
	tracer, err := tracekit.New(cfg, opts...)
	require.NoError(t, err)
	return tracer
}

// runTrace drives one request-shaped trace through the tracer.
func runTrace(ctx context.Context, tracer *tracekit.Tracer, name string, queries int) error {
	trace := tracer.StartTrace(name)
	trace.RootSpan().SetAttribute("request.id", name)
	for i := 0; i < queries; i++ {
		span, err := tracer.StartSpan(trace.ID(), "db.query")
		if err != nil {
			return err
		}
		span.SetAttribute(tracekit.QueryAttribute, fmt.Sprintf("SELECT * FROM items WHERE shard = %d", i))
		if err := tracer.EndSpan(trace.ID(), nil); err != nil {
			return err
		}
	}
	if err := tracer.EndSpan(trace.ID(), nil); err != nil {
		return err
	}
	_, err := tracer.FinishTrace(ctx, trace.ID(), nil)
	return err
}

func heapAlloc() int64 {
	var stats runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&stats)
	return int64(stats.HeapAlloc) //nolint:gosec // heap size fits in int64
}
