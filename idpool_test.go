package tracekit

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestIDPoolBasicOperation(t *testing.T) {
	pool := NewIDPool(10, func() string { return "test-id" })
	defer pool.Close()

	assert.Equal(t, "test-id", pool.Get())
}

func TestIDPoolFallsBackToFactory(t *testing.T) {
	var calls atomic.Int64
	pool := NewIDPool(1, func() string {
		calls.Add(1)
		return "direct-id"
	})
	defer pool.Close()

	for i := 0; i < 5; i++ {
		assert.Equal(t, "direct-id", pool.Get())
	}
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestIDPoolConcurrentAccess(t *testing.T) {
	pool := NewIDPool(50, func() string { return "concurrent-id" })
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.Equal(t, "concurrent-id", pool.Get())
			}
		}()
	}
	wg.Wait()
}

func TestIDPoolCloseIsIdempotent(t *testing.T) {
	pool := NewIDPool(10, func() string { return "shutdown-test" })

	pool.Close()
	pool.Close()

	// Get still works from the factory after close.
	assert.Equal(t, "shutdown-test", pool.Get())
}

func TestPooledIDsFormat(t *testing.T) {
	ids := NewPooledIDs(8)
	defer ids.Close()

	seenTraces := make(map[string]bool)
	seenSpans := make(map[string]bool)
	for i := 0; i < 100; i++ {
		traceID := ids.TraceID()
		spanID := ids.SpanID()

		require.Len(t, traceID, 32)
		require.Len(t, spanID, 16)
		_, err := hex.DecodeString(traceID)
		require.NoError(t, err)
		_, err = hex.DecodeString(spanID)
		require.NoError(t, err)

		assert.False(t, seenTraces[traceID], "duplicate trace id")
		assert.False(t, seenSpans[spanID], "duplicate span id")
		seenTraces[traceID] = true
		seenSpans[spanID] = true
	}
}

func TestNewPooledIDsDefaultSize(t *testing.T) {
	ids := NewPooledIDs(0)
	defer ids.Close()

	assert.Positive(t, ids.size)
}

func TestRandomHexWidth(t *testing.T) {
	assert.Len(t, randomHex(4)(), 8)
}

func TestUUIDs(t *testing.T) {
	var ids UUIDs

	traceID := ids.TraceID()
	spanID := ids.SpanID()

	parsed, err := uuid.Parse(traceID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	_, err = uuid.Parse(spanID)
	require.NoError(t, err)
	assert.NotEqual(t, traceID, spanID)
}

func TestULIDsUseClock(t *testing.T) {
	clock := clockz.NewFakeClock()
	ids := NewULIDs(clock)

	id := ids.TraceID()
	assert.Len(t, id, 26)
	assert.Equal(t, strings.ToLower(id), id)

	parsed, err := ulid.ParseStrict(strings.ToUpper(id))
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli(), ulid.Time(parsed.Time()).UnixMilli())
}

func TestULIDsSortable(t *testing.T) {
	clock := clockz.NewFakeClock()
	ids := NewULIDs(clock)

	var generated []string
	for i := 0; i < 50; i++ {
		generated = append(generated, ids.SpanID())
		if i%10 == 0 {
			clock.Advance(time.Millisecond)
		}
	}

	assert.True(t, sort.StringsAreSorted(generated))
	seen := make(map[string]bool, len(generated))
	for _, id := range generated {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestULIDsConcurrent(t *testing.T) {
	ids := NewULIDs(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := ids.TraceID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 800)
}
