package tracekit

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/zoobzio/clockz"
)

// QueryAttribute labels database spans in PerformanceMetrics.
const QueryAttribute Attribute = "query"

// databaseMarkers identify database work by span name.
var databaseMarkers = []string{"db", "query"}

// Operation identifies a single span and its duration.
type Operation struct {
	SpanID   string        `json:"span_id"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// QueryTiming is a database span reduced to a label and its duration.
type QueryTiming struct {
	Query    string        `json:"query"`
	Duration time.Duration `json:"duration"`
}

// MemoryStats is a point-in-time sample of process memory.
type MemoryStats struct {
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapInuse  uint64 `json:"heap_inuse"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// MemorySampler reports process memory at the moment of analysis.
type MemorySampler interface {
	Sample() MemoryStats
}

// MemorySamplerFunc adapts a function to MemorySampler.
type MemorySamplerFunc func() MemoryStats

// Sample calls f.
func (f MemorySamplerFunc) Sample() MemoryStats {
	return f()
}

// RuntimeMemorySampler samples the Go runtime's memory statistics.
type RuntimeMemorySampler struct{}

// Sample reads runtime.MemStats. It briefly stops the world.
func (RuntimeMemorySampler) Sample() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// PerformanceMetrics are derived from one trace on demand.
//
//nolint:govet // Field order follows the JSON layout
type PerformanceMetrics struct {
	AnalyzedAt       time.Time     `json:"analyzed_at"`
	TraceID          string        `json:"trace_id"`
	SlowestOperation Operation     `json:"slowest_operation"`
	DatabaseQueries  []QueryTiming `json:"database_queries,omitempty"`
	Memory           MemoryStats   `json:"memory"`
	TotalDuration    time.Duration `json:"total_duration"`
	AverageDuration  time.Duration `json:"average_duration"`
	SpanCount        int           `json:"span_count"`
}

// Analyzer computes PerformanceMetrics.
type Analyzer struct {
	memory MemorySampler
	clock  clockz.Clock
}

// NewAnalyzer creates an analyzer. Nil arguments select the runtime
// sampler and the real clock.
func NewAnalyzer(memory MemorySampler, clock clockz.Clock) *Analyzer {
	if memory == nil {
		memory = RuntimeMemorySampler{}
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Analyzer{memory: memory, clock: clock}
}

// Analyze derives metrics from a trace. Spans without a duration count as
// zero; a running trace reports a zero TotalDuration.
func (a *Analyzer) Analyze(trace *Trace) PerformanceMetrics {
	spans := trace.Spans()

	m := PerformanceMetrics{
		TraceID:       trace.ID(),
		TotalDuration: trace.Duration(),
		SpanCount:     len(spans),
		AnalyzedAt:    a.clock.Now(),
	}

	var total time.Duration
	for i := range spans {
		d := spanDuration(&spans[i])
		total += d
		// Strict comparison keeps the first span on ties.
		if i == 0 || d > m.SlowestOperation.Duration {
			m.SlowestOperation = Operation{SpanID: spans[i].ID, Name: spans[i].Name, Duration: d}
		}
	}
	if len(spans) > 0 {
		m.AverageDuration = total / time.Duration(len(spans))
	}

	for i := range spans {
		if !isDatabaseSpan(spans[i].Name) {
			continue
		}
		m.DatabaseQueries = append(m.DatabaseQueries, QueryTiming{
			Query:    queryLabel(&spans[i]),
			Duration: spanDuration(&spans[i]),
		})
	}

	m.Memory = a.memory.Sample()
	return m
}

func spanDuration(s *Span) time.Duration {
	if !s.Ended() {
		return 0
	}
	return s.Duration
}

func isDatabaseSpan(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range databaseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func queryLabel(s *Span) string {
	v, ok := s.Attributes[QueryAttribute]
	if !ok || v == nil {
		return s.Name
	}
	if str, ok := v.(string); ok {
		if str == "" {
			return s.Name
		}
		return str
	}
	return fmt.Sprint(v)
}
