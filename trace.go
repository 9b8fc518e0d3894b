package tracekit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// TraceStatus is the lifecycle state of a trace.
type TraceStatus uint8

const (
	// TraceRunning is the initial state.
	TraceRunning TraceStatus = iota
	// TraceCompleted is reached by finishing without an error.
	TraceCompleted
	// TraceFailed is reached by finishing with an error.
	TraceFailed
)

// String returns the status name.
func (s TraceStatus) String() string {
	switch s {
	case TraceRunning:
		return "running"
	case TraceCompleted:
		return "completed"
	case TraceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s TraceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *TraceStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []TraceStatus{TraceRunning, TraceCompleted, TraceFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown trace status %q", text)
}

// visualizeIndent is the prefix added per tree level by Visualize.
const visualizeIndent = "  "

// Trace is one logical unit of work and its span tree.
// Spans are kept in creation order; the root is always first.
// Safe for concurrent use, although the cursor models a single call stack.
//
//nolint:govet // Field order optimized for readability
type Trace struct {
	clock     clockz.Clock
	ids       IDGenerator
	err       error
	startTime time.Time
	endTime   time.Time
	spans     []Span
	id        string
	duration  time.Duration
	cursor    int
	mu        sync.Mutex
	status    TraceStatus
	sampled   bool
}

// NewTrace creates a running trace whose root span is named rootName.
// Most callers should use Tracer.StartTrace instead.
func NewTrace(rootName string, clock clockz.Clock, ids IDGenerator) *Trace {
	if clock == nil {
		clock = clockz.RealClock
	}
	if ids == nil {
		ids = UUIDs{}
	}

	now := clock.Now()
	t := &Trace{
		clock:     clock,
		ids:       ids,
		id:        ids.TraceID(),
		startTime: now,
		status:    TraceRunning,
		sampled:   true,
		cursor:    rootIndex,
	}
	t.spans = append(t.spans, newSpan(t.id, ids.SpanID(), rootName, noParent, "", now))
	return t
}

// StartSpan opens a span nested under the current span and makes it current.
func (t *Trace) StartSpan(name Key) (*ActiveSpan, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TraceRunning {
		return nil, ErrTraceFinished
	}

	parent := t.cursor
	index := len(t.spans)
	span := newSpan(t.id, t.ids.SpanID(), name, parent, t.spans[parent].ID, t.clock.Now())
	t.spans = append(t.spans, span)
	t.spans[parent].addChild(index)
	t.cursor = index

	return &ActiveSpan{trace: t, index: index}, nil
}

// RootSpan returns a handle to the root span, for attributes that describe
// the whole trace.
func (t *Trace) RootSpan() *ActiveSpan {
	return &ActiveSpan{trace: t, index: rootIndex}
}

// EndSpan ends the current span and moves the cursor to its parent.
// The cursor never moves above the root, so surplus calls end up
// re-ending the root and return ErrAlreadyFinished.
func (t *Trace) EndSpan(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TraceRunning {
		return ErrTraceFinished
	}

	current := &t.spans[t.cursor]
	if endErr := current.end(t.clock.Now(), err); endErr != nil {
		return fmt.Errorf("span %q: %w", current.Name, endErr)
	}
	if !current.IsRoot() {
		t.cursor = current.parent
	}
	return nil
}

// Finish moves the trace to its terminal state. The root span is not
// ended implicitly.
func (t *Trace) Finish(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TraceRunning {
		return ErrAlreadyFinished
	}

	t.endTime = t.clock.Now()
	t.duration = t.endTime.Sub(t.startTime)
	if err != nil {
		t.status = TraceFailed
		t.err = err
	} else {
		t.status = TraceCompleted
	}
	return nil
}

// SlowOperations returns spans, in creation order, whose duration exceeds
// threshold. Spans that have not ended are excluded.
func (t *Trace) SlowOperations(threshold time.Duration) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	var slow []Span
	for i := range t.spans {
		if t.spans[i].Ended() && t.spans[i].Duration > threshold {
			slow = append(slow, t.spans[i].clone())
		}
	}
	return slow
}

// Visualize renders the span tree depth-first, one line per span.
func (t *Trace) Visualize() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	t.visualizeLocked(&b, rootIndex, 0)
	return b.String()
}

func (t *Trace) visualizeLocked(b *strings.Builder, index, depth int) {
	span := &t.spans[index]
	b.WriteString(strings.Repeat(visualizeIndent, depth))
	b.WriteString(span.Name)
	if span.Ended() {
		fmt.Fprintf(b, " (%s)", span.Duration)
	} else {
		b.WriteString(" (running)")
	}
	if span.Status == SpanError {
		b.WriteString(" [error]")
	}
	b.WriteByte('\n')

	for _, child := range span.children {
		t.visualizeLocked(b, child, depth+1)
	}
}

// ID returns the trace ID.
func (t *Trace) ID() string {
	return t.id
}

// Name returns the root operation name.
func (t *Trace) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[rootIndex].Name
}

// Status returns the lifecycle state.
func (t *Trace) Status() TraceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Finished reports whether Finish has been called.
func (t *Trace) Finished() bool {
	return t.Status() != TraceRunning
}

// Err returns the error captured by Finish, if any.
func (t *Trace) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// StartTime returns when the trace started.
func (t *Trace) StartTime() time.Time {
	return t.startTime
}

// EndTime returns when the trace finished, or the zero time.
func (t *Trace) EndTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endTime
}

// Duration returns the trace duration. Zero while running.
func (t *Trace) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Sampled reports whether the tracer retains and exports this trace.
func (t *Trace) Sampled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampled
}

// Root returns a copy of the root span.
func (t *Trace) Root() Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[rootIndex].clone()
}

// Current returns a copy of the span under the cursor.
func (t *Trace) Current() Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spans[t.cursor].clone()
}

// Len returns the number of spans in the trace.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Spans returns copies of all spans in creation order.
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Span, len(t.spans))
	for i := range t.spans {
		result[i] = t.spans[i].clone()
	}
	return result
}

// Span looks up a span by ID.
func (t *Trace) Span(id string) (Span, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexLocked(id); i >= 0 {
		return t.spans[i].clone(), true
	}
	return Span{}, false
}

// Children returns copies of a span's direct children in start order.
func (t *Trace) Children(id string) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return nil
	}
	children := make([]Span, 0, len(t.spans[i].children))
	for _, c := range t.spans[i].children {
		children = append(children, t.spans[c].clone())
	}
	return children
}

func (t *Trace) indexLocked(id string) int {
	for i := range t.spans {
		if t.spans[i].ID == id {
			return i
		}
	}
	return -1
}

// TraceSnapshot is a read-only rendering of a trace and its span tree.
type TraceSnapshot struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	ID        string        `json:"trace_id"`
	Name      string        `json:"name"`
	Error     string        `json:"error,omitempty"`
	Root      SpanSnapshot  `json:"root"`
	Duration  time.Duration `json:"duration"`
	Status    TraceStatus   `json:"status"`
}

// Snapshot serializes the trace header and its span tree.
func (t *Trace) Snapshot() TraceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := TraceSnapshot{
		ID:        t.id,
		Name:      t.spans[rootIndex].Name,
		StartTime: t.startTime,
		EndTime:   t.endTime,
		Duration:  t.duration,
		Status:    t.status,
		Root:      t.serializeLocked(rootIndex),
	}
	if t.err != nil {
		snap.Error = t.err.Error()
	}
	return snap
}

// SerializeSpan renders the span with the given ID and its descendants.
func (t *Trace) SerializeSpan(id string) (SpanSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return SpanSnapshot{}, false
	}
	return t.serializeLocked(i), true
}

func (t *Trace) serializeLocked(index int) SpanSnapshot {
	span := t.spans[index].clone()
	snap := SpanSnapshot{
		ID:         span.ID,
		Name:       span.Name,
		Duration:   span.Duration,
		Status:     span.Status,
		Attributes: span.Attributes,
	}
	if span.Err != nil {
		snap.Error = span.Err.Error()
	}
	for _, child := range span.children {
		snap.Children = append(snap.Children, t.serializeLocked(child))
	}
	return snap
}
