package tracekit

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStoreCapacity is the number of finished traces retained by default.
const DefaultStoreCapacity = 1000

// DefaultSlowTraceThreshold is the conventional threshold for SlowTraces.
const DefaultSlowTraceThreshold = time.Second

// StoreStats aggregates durations over the traces currently retained.
type StoreStats struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
	Min   time.Duration `json:"min"`
}

// TraceStore retains finished traces up to a fixed capacity.
// When full, the trace inserted first is evicted. Overwriting an existing
// trace ID keeps its original position in the eviction order.
// Safe for concurrent use by multiple goroutines.
type TraceStore struct {
	onEvict  func(*Trace)
	ll       *list.List // traces ordered by insertion, oldest at the back
	index    map[string]*list.Element
	capacity int
	evicted  atomic.Uint64
	mu       sync.RWMutex
}

// NewTraceStore creates a store holding at most capacity traces.
// A non-positive capacity selects DefaultStoreCapacity.
func NewTraceStore(capacity int) *TraceStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &TraceStore{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// OnEvict registers a callback invoked with each evicted trace.
// The callback runs with the store locked and must not call back into it.
func (s *TraceStore) OnEvict(fn func(*Trace)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Store inserts a finished trace, or overwrites the trace with the same ID
// in place. Running traces are rejected with ErrTraceRunning.
func (s *TraceStore) Store(trace *Trace) error {
	if trace == nil {
		return fmt.Errorf("store: %w", ErrTraceNotFound)
	}
	if !trace.Finished() {
		return fmt.Errorf("store trace %s: %w", trace.ID(), ErrTraceRunning)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ee, ok := s.index[trace.ID()]; ok {
		ee.Value = trace
		return nil
	}

	s.index[trace.ID()] = s.ll.PushFront(trace)
	if s.ll.Len() > s.capacity {
		s.evictOldest()
	}
	return nil
}

func (s *TraceStore) evictOldest() {
	ee := s.ll.Back()
	if ee == nil {
		return
	}
	trace := ee.Value.(*Trace)
	s.ll.Remove(ee)
	delete(s.index, trace.ID())
	s.evicted.Add(1)
	if s.onEvict != nil {
		s.onEvict(trace)
	}
}

// Get returns the trace stored under id.
func (s *TraceStore) Get(id string) (*Trace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ee, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return ee.Value.(*Trace), true
}

// All returns the stored traces in insertion order.
func (s *TraceStore) All() []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	traces := make([]*Trace, 0, s.ll.Len())
	for ee := s.ll.Back(); ee != nil; ee = ee.Prev() {
		traces = append(traces, ee.Value.(*Trace))
	}
	return traces
}

// SlowTraces returns stored traces, in insertion order, whose duration is
// strictly greater than threshold.
func (s *TraceStore) SlowTraces(threshold time.Duration) []*Trace {
	var slow []*Trace
	for _, trace := range s.All() {
		if trace.Duration() > threshold {
			slow = append(slow, trace)
		}
	}
	return slow
}

// Clear removes every stored trace. Evictions are not counted.
func (s *TraceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ll.Init()
	s.index = make(map[string]*list.Element)
}

// Len returns the number of stored traces.
func (s *TraceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ll.Len()
}

// Capacity returns the maximum number of retained traces.
func (s *TraceStore) Capacity() int {
	return s.capacity
}

// Evicted returns the number of traces evicted to respect capacity.
func (s *TraceStore) Evicted() uint64 {
	return s.evicted.Load()
}

// Stats aggregates durations of the stored traces.
// An empty store returns ErrEmptyStore instead of an undefined mean.
func (s *TraceStore) Stats() (StoreStats, error) {
	traces := s.All()
	if len(traces) == 0 {
		return StoreStats{}, ErrEmptyStore
	}

	var total time.Duration
	stats := StoreStats{
		Count: len(traces),
		Min:   traces[0].Duration(),
		Max:   traces[0].Duration(),
	}
	for _, trace := range traces {
		d := trace.Duration()
		total += d
		if d > stats.Max {
			stats.Max = d
		}
		if d < stats.Min {
			stats.Min = d
		}
	}
	stats.Mean = total / time.Duration(len(traces))
	return stats, nil
}
