// Package tracekit records in-process request traces, analyzes them and
// keeps a bounded history of finished traces.
//
// A trace is a tree of timed spans owned by a single logical task.
// Exporters receive each finished trace along with its metrics.
//
// Core Components:
//   - Tracer: Registry of open traces and the finish pipeline.
//   - Trace: Owns a span arena and the current-span cursor.
//   - Span: A single timed operation within a trace.
//   - TraceStore: Bounded FIFO retention of finished traces.
//   - Analyzer: Derives PerformanceMetrics from a finished trace.
//   - Exporter: Receives finished traces (console, zap, prometheus, collector).
//
// Basic Usage:
//
//	cfg := tracekit.DefaultConfig()
//	cfg.ServiceName = "checkout"
//
//	tracer, err := tracekit.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer tracer.Close(ctx)
//
//	trace := tracer.StartTrace("checkout")
//	span, _ := trace.StartSpan("charge")
//	span.SetAttribute("amount", 42)
//	_ = trace.EndSpan(nil)
//
//	finished, err := tracer.FinishTrace(ctx, trace.ID(), nil)
//
// Cursor Semantics:
//
// StartSpan nests the new span under the current cursor span and moves the
// cursor to it. EndSpan ends the cursor span and moves the cursor back to
// its parent. The cursor never moves above the root span.
//
// Thread Safety:
//
// Tracer, TraceStore and Trace are safe for concurrent use. The cursor
// still models a single call stack, so start/end calls on one trace must
// come from the task that owns it.
//
// Lifecycle:
//
// Spans and traces end exactly once. Ending or finishing twice returns
// ErrAlreadyFinished and leaves recorded timings untouched.
package tracekit

import "errors"

// Key represents a span operation name.
type Key = string

// Attribute represents a span attribute key.
type Attribute = string

var (
	// ErrNoActiveTrace is returned when a span operation names no trace.
	ErrNoActiveTrace = errors.New("no active trace")

	// ErrTraceNotFound is returned when a trace id is unknown.
	ErrTraceNotFound = errors.New("trace not found")

	// ErrAlreadyFinished is returned when ending a span or finishing a
	// trace that already reached a terminal state.
	ErrAlreadyFinished = errors.New("already finished")

	// ErrTraceFinished is returned by span operations on a finished trace.
	ErrTraceFinished = errors.New("trace is finished")

	// ErrTraceRunning is returned when storing a trace that is still running.
	ErrTraceRunning = errors.New("trace is still running")

	// ErrEmptyStore is returned by Stats on an empty store.
	ErrEmptyStore = errors.New("trace store is empty")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)
