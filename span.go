package tracekit

import (
	"fmt"
	"time"
)

// SpanStatus is the lifecycle state of a span.
type SpanStatus uint8

const (
	// SpanStarted marks a span that has not ended yet.
	SpanStarted SpanStatus = iota
	// SpanCompleted marks a span that ended without an error.
	SpanCompleted
	// SpanError marks a span that ended with a captured error.
	SpanError
)

// String returns the status name.
func (s SpanStatus) String() string {
	switch s {
	case SpanStarted:
		return "started"
	case SpanCompleted:
		return "completed"
	case SpanError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s SpanStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *SpanStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []SpanStatus{SpanStarted, SpanCompleted, SpanError} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown span status %q", text)
}

// rootIndex is the arena position of every trace's root span.
const rootIndex = 0

// noParent is the parent index of the root span.
const noParent = -1

// Span represents a single timed operation within a trace.
// Spans live in their trace's arena and link to each other by index.
// Values returned from Trace accessors are copies.
//
//nolint:govet // Field order follows the JSON layout
type Span struct {
	Attributes map[Attribute]any `json:"attributes,omitempty"`
	Err        error             `json:"-"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time,omitempty"`
	Duration   time.Duration     `json:"duration"`
	TraceID    string            `json:"trace_id"`
	ID         string            `json:"span_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	Name       string            `json:"name"`
	Status     SpanStatus        `json:"status"`

	parent   int
	children []int
}

func newSpan(traceID, id, name string, parent int, parentID string, now time.Time) Span {
	return Span{
		TraceID:   traceID,
		ID:        id,
		ParentID:  parentID,
		Name:      name,
		StartTime: now,
		Status:    SpanStarted,
		parent:    parent,
	}
}

// Ended reports whether the span reached a terminal status.
// Duration is only meaningful when Ended is true.
func (s Span) Ended() bool {
	return s.Status != SpanStarted
}

// IsRoot reports whether the span is its trace's root.
func (s Span) IsRoot() bool {
	return s.parent == noParent
}

// addChild appends a child index. The child's parent link is not checked.
func (s *Span) addChild(child int) {
	s.children = append(s.children, child)
}

// end performs the one-shot terminal transition.
func (s *Span) end(now time.Time, err error) error {
	if s.Ended() {
		return ErrAlreadyFinished
	}

	s.EndTime = now
	s.Duration = s.EndTime.Sub(s.StartTime)
	if err != nil {
		s.Status = SpanError
		s.Err = err
	} else {
		s.Status = SpanCompleted
	}
	return nil
}

func (s *Span) setAttribute(key Attribute, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[Attribute]any)
	}
	s.Attributes[key] = value
}

// clone returns a copy that shares no mutable state with s.
func (s *Span) clone() Span {
	c := *s
	if s.Attributes != nil {
		c.Attributes = make(map[Attribute]any, len(s.Attributes))
		for k, v := range s.Attributes {
			c.Attributes[k] = v
		}
	}
	if s.children != nil {
		c.children = append([]int(nil), s.children...)
	}
	return c
}

// SpanSnapshot is a read-only tree rendering of a span and its descendants.
type SpanSnapshot struct {
	Attributes map[Attribute]any `json:"attributes,omitempty"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     SpanStatus        `json:"status"`
	Error      string            `json:"error,omitempty"`
	Children   []SpanSnapshot    `json:"children,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// ActiveSpan is a handle to a span inside a running trace.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	trace *Trace
	index int
}

// SetAttribute adds a key-value pair to the span.
// No-op once the owning trace is finished.
func (a *ActiveSpan) SetAttribute(key Attribute, value any) {
	a.trace.mu.Lock()
	defer a.trace.mu.Unlock()

	// Stored traces are immutable.
	if a.trace.status != TraceRunning {
		return
	}
	a.trace.spans[a.index].setAttribute(key, value)
}

// Attribute retrieves an attribute value by key.
func (a *ActiveSpan) Attribute(key Attribute) (any, bool) {
	a.trace.mu.Lock()
	defer a.trace.mu.Unlock()

	value, ok := a.trace.spans[a.index].Attributes[key]
	return value, ok
}

// ID returns the span ID.
func (a *ActiveSpan) ID() string {
	a.trace.mu.Lock()
	defer a.trace.mu.Unlock()
	return a.trace.spans[a.index].ID
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	return a.trace.id
}

// Name returns the span's operation name.
func (a *ActiveSpan) Name() string {
	a.trace.mu.Lock()
	defer a.trace.mu.Unlock()
	return a.trace.spans[a.index].Name
}

// Span returns a copy of the span's current state.
func (a *ActiveSpan) Span() Span {
	a.trace.mu.Lock()
	defer a.trace.mu.Unlock()
	return a.trace.spans[a.index].clone()
}
