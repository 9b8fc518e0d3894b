package tracekit

import (
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/zoobzio/clockz"
)

// IDGenerator produces trace and span identifiers.
// Implementations must be safe for concurrent use.
type IDGenerator interface {
	TraceID() string
	SpanID() string
}

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
func NewIDPool(capacity int, factory func() string) *IDPool {
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if pool is empty.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *IDPool) refill() {
	for {
		select {
		case p.ids <- p.factory():
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// PooledIDs generates random hex IDs: 32 characters for traces and 16 for
// spans. IDs are drawn from background-filled pools.
type PooledIDs struct {
	traces *IDPool
	spans  *IDPool
	size   int
	once   sync.Once
}

// NewPooledIDs creates a generator whose pools hold size IDs each.
// A non-positive size scales with the number of CPUs.
func NewPooledIDs(size int) *PooledIDs {
	if size <= 0 {
		size = runtime.NumCPU() * 100
	}
	return &PooledIDs{size: size}
}

func (g *PooledIDs) ensurePools() {
	g.once.Do(func() {
		g.traces = NewIDPool(g.size, randomHex(16))
		g.spans = NewIDPool(g.size, randomHex(8))
	})
}

// TraceID returns a 32 character hex ID.
func (g *PooledIDs) TraceID() string {
	g.ensurePools()
	return g.traces.Get()
}

// SpanID returns a 16 character hex ID.
func (g *PooledIDs) SpanID() string {
	g.ensurePools()
	return g.spans.Get()
}

// Close stops both pools.
func (g *PooledIDs) Close() {
	g.ensurePools()
	g.traces.Close()
	g.spans.Close()
}

// fallbackCounter keeps IDs unique if crypto/rand ever fails.
var fallbackCounter atomic.Uint64

func randomHex(n int) func() string {
	return func() string {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			id := strconv.FormatUint(fallbackCounter.Add(1), 16)
			for len(id) < 2*n {
				id = "0" + id
			}
			return id
		}
		return hex.EncodeToString(b)
	}
}

// UUIDs generates random (version 4) UUIDs for both traces and spans.
type UUIDs struct{}

// TraceID returns a new UUID string.
func (UUIDs) TraceID() string {
	return uuid.NewString()
}

// SpanID returns a new UUID string.
func (UUIDs) SpanID() string {
	return uuid.NewString()
}

// ULIDs generates lexicographically sortable IDs stamped from a clock.
// IDs from one generator are strictly increasing, even within a millisecond.
type ULIDs struct {
	clock   clockz.Clock
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// NewULIDs creates a ULID generator. A nil clock uses the real clock.
func NewULIDs(clock clockz.Clock) *ULIDs {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &ULIDs{
		clock:   clock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// TraceID returns a new lower-case ULID.
func (g *ULIDs) TraceID() string {
	return g.next()
}

// SpanID returns a new lower-case ULID.
func (g *ULIDs) SpanID() string {
	return g.next()
}

func (g *ULIDs) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.clock.Now()), g.entropy)
	if err != nil {
		// Monotonic entropy overflowed within one millisecond.
		id = ulid.MustNew(ulid.Timestamp(g.clock.Now()), rand.Reader)
	}
	return strings.ToLower(id.String())
}
