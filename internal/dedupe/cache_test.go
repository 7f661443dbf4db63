// ABOUTME: Tests for the inbound event dedupe cache
// ABOUTME: Validates TTL expiration, size limits, eviction, and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Check_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Check("customer-1|1|hello"))
}

func TestCache_CheckAndMark_ReplayRejected(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	key := "customer-1|1700000000|hello"

	// First delivery is new and gets marked
	assert.False(t, cache.CheckAndMark(key))

	// Redelivery of the same event is a replay
	assert.True(t, cache.CheckAndMark(key))
	assert.True(t, cache.Check(key))
}

func TestCache_Check_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-event")
	assert.True(t, cache.Check("expiring-event"))

	time.Sleep(20 * time.Millisecond)

	// Past the TTL the same payload counts as a fresh event again
	assert.False(t, cache.Check("expiring-event"))
	assert.False(t, cache.CheckAndMark("expiring-event"))
}

func TestCache_Mark_RefreshesTimestamp(t *testing.T) {
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("refresh-event")
	time.Sleep(30 * time.Millisecond)
	cache.Mark("refresh-event")
	time.Sleep(30 * time.Millisecond)

	// Still present because the re-mark refreshed it past the original TTL
	assert.True(t, cache.Check("refresh-event"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("event-1")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("event-2")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("event-3")
	time.Sleep(1 * time.Millisecond)
	cache.Mark("event-4")

	assert.False(t, cache.Check("event-1"), "oldest key should be evicted")
	assert.True(t, cache.Check("event-2"))
	assert.True(t, cache.Check("event-3"))
	assert.True(t, cache.Check("event-4"))
	assert.Equal(t, 3, cache.Len())
}

func TestCache_CleanupRemovesExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("stale-1")
	cache.Mark("stale-2")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()
	assert.Equal(t, 0, cache.Len(), "cleanup should remove expired entries")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("customer-%d|%d|hi", id%26, j%10)
				cache.CheckAndMark(key)
				cache.Check(key)
			}
		}(i)
	}

	wg.Wait()

	// Still functional after concurrent use
	cache.Mark("final-event")
	assert.True(t, cache.Check("final-event"))
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Mark("before-close")
	assert.True(t, cache.Check("before-close"))

	cache.Close()
	// Multiple closes should not panic
	cache.Close()
}
