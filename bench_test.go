package tracekit

import (
	"context"
	"testing"

	"github.com/zoobzio/clockz"
)

func BenchmarkTraceSpans(b *testing.B) {
	clock := clockz.NewFakeClock()
	ids := NewPooledIDs(0)
	defer ids.Close()

	b.Run("no-attributes", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			trace := NewTrace("request", clock, ids)
			_, _ = trace.StartSpan("op")
			_ = trace.EndSpan(nil)
			_ = trace.Finish(nil)
		}
	})

	b.Run("with-attributes", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			trace := NewTrace("request", clock, ids)
			span, _ := trace.StartSpan("op")
			span.SetAttribute("key", "value")
			span.SetAttribute("int", 123)
			_ = trace.EndSpan(nil)
			_ = trace.Finish(nil)
		}
	})
}

func BenchmarkFinishTrace(b *testing.B) {
	for _, capture := range []bool{false, true} {
		name := "no-metrics"
		if capture {
			name = "metrics"
		}
		b.Run(name, func(b *testing.B) {
			cfg := DefaultConfig()
			cfg.ServiceName = "bench"
			cfg.ExportTo = ExportNone
			cfg.CaptureMetrics = Bool(capture)

			tracer, err := New(cfg, WithMemorySampler(fixedMemory))
			if err != nil {
				b.Fatal(err)
			}
			defer func() { _ = tracer.Close(context.Background()) }()

			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				trace := tracer.StartTrace("request")
				_, _ = tracer.StartSpan(trace.ID(), "db.query")
				_ = tracer.EndSpan(trace.ID(), nil)
				_, _ = tracer.FinishTrace(ctx, trace.ID(), nil)
			}
		})
	}
}

func BenchmarkStoreEviction(b *testing.B) {
	clock := clockz.NewFakeClock()
	ids := NewPooledIDs(0)
	defer ids.Close()
	store := NewTraceStore(100)

	traces := make([]*Trace, 1000)
	for i := range traces {
		traces[i] = NewTrace("t", clock, ids)
		_ = traces[i].Finish(nil)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Store(traces[i%len(traces)])
	}
}
