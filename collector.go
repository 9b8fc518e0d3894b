package tracekit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Record is a finished trace as captured by a Collector.
type Record struct {
	Metrics *PerformanceMetrics `json:"metrics,omitempty"`
	Trace   TraceSnapshot       `json:"trace"`
}

// Collector is an Exporter that buffers finished traces for batch retrieval.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	records      []Record
	recordsCh    chan Record
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	mu           sync.Mutex
	intakeMu     sync.RWMutex // Held for writing only while closing intake.
	closed       bool
	syncMode     bool // Bypass channel for synchronous collection.
}

// NewCollector creates a collector whose intake channel holds bufferSize records.
func NewCollector(bufferSize int) *Collector {
	c := &Collector{
		records:   make([]Record, 0, 8),
		recordsCh: make(chan Record, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining records before shutdown.
			for {
				select {
				case r := <-c.recordsCh:
					c.buffer(r)
				default:
					return
				}
			}
		case r := <-c.recordsCh:
			c.buffer(r)
		}
	}
}

// Export snapshots the trace and queues it. If the intake channel is full
// the record is dropped and the drop counter is incremented.
// In sync mode records are buffered directly for deterministic testing.
func (c *Collector) Export(_ context.Context, trace *Trace, metrics *PerformanceMetrics) error {
	c.intakeMu.RLock()
	defer c.intakeMu.RUnlock()

	if trace == nil || c.closed {
		c.droppedCount.Add(1)
		return nil
	}

	r := Record{Trace: trace.Snapshot()}
	if metrics != nil {
		m := *metrics
		m.DatabaseQueries = append([]QueryTiming(nil), metrics.DatabaseQueries...)
		r.Metrics = &m
	}

	if c.syncMode {
		c.buffer(r)
		return nil
	}

	select {
	case c.recordsCh <- r:
	default:
		c.droppedCount.Add(1)
	}
	return nil
}

func (c *Collector) buffer(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

// Drain returns all buffered records and clears the buffer.
func (c *Collector) Drain() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.records) == 0 {
		return nil
	}

	result := make([]Record, len(c.records))
	copy(result, c.records)

	// Shrink oversized buffers after a burst.
	if cap(c.records) > 256 && len(c.records) < cap(c.records)/8 {
		c.records = make([]Record, 0, cap(c.records)/4)
	} else {
		c.records = c.records[:0]
	}
	return result
}

// Count returns the number of buffered records.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// DroppedCount returns the number of records dropped due to backpressure
// or because the collector was shut down.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Reset clears buffered records and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = c.records[:0]
	c.droppedCount.Store(0)
}

// Shutdown stops intake and waits, bounded by ctx, for queued records to
// be buffered. Records accepted before Shutdown are never lost; later
// Exports are counted as dropped. Buffered records remain available to Drain.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.intakeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stopCh)
	}
	c.intakeMu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
