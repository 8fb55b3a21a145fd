// ABOUTME: Tests for the scoped dedupe cache that drops replayed dispatches.
// ABOUTME: Validates TTL expiration, per-scope eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_CheckSeenAndExpiry(t *testing.T) {
	cache := New(30*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.Check("MESSAGE_CREATE", "msg-1"), "unseen key")

	cache.Mark("MESSAGE_CREATE", "msg-1")
	assert.True(t, cache.Check("MESSAGE_CREATE", "msg-1"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, cache.Check("MESSAGE_CREATE", "msg-1"), "expired key")
}

func TestCache_ScopesAreIndependent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("MESSAGE_CREATE", "42")
	assert.True(t, cache.Check("MESSAGE_CREATE", "42"))
	assert.False(t, cache.Check("MESSAGE_UPDATE", "42"), "same key in another scope is fresh")
}

func TestCache_MarkRefreshesTimestamp(t *testing.T) {
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("MESSAGE_CREATE", "msg-1")
	time.Sleep(30 * time.Millisecond)
	cache.Mark("MESSAGE_CREATE", "msg-1")
	time.Sleep(30 * time.Millisecond)

	assert.True(t, cache.Check("MESSAGE_CREATE", "msg-1"), "re-mark must extend the window")
}

func TestCache_CheckAndMark(t *testing.T) {
	cache := New(30*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("MESSAGE_CREATE", "msg-1"), "first delivery is not a duplicate")
	assert.True(t, cache.CheckAndMark("MESSAGE_CREATE", "msg-1"), "replay within the window is")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, cache.CheckAndMark("MESSAGE_CREATE", "msg-1"), "expired key counts as fresh")
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100

	var mu sync.Mutex
	winners := 0
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("MESSAGE_CREATE", "contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one delivery wins the race")
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("MESSAGE_CREATE", "first")
	cache.Mark("MESSAGE_CREATE", "second")
	cache.Mark("MESSAGE_CREATE", "third")

	cache.Mark("MESSAGE_CREATE", "fourth")
	assert.False(t, cache.Check("MESSAGE_CREATE", "first"), "oldest key is evicted at capacity")
	assert.True(t, cache.Check("MESSAGE_CREATE", "second"))
	assert.True(t, cache.Check("MESSAGE_CREATE", "third"))
	assert.True(t, cache.Check("MESSAGE_CREATE", "fourth"))

	cache.Mark("MESSAGE_CREATE", "fifth")
	assert.False(t, cache.Check("MESSAGE_CREATE", "second"))
	assert.True(t, cache.Check("MESSAGE_CREATE", "fifth"))
}

func TestCache_BurstyScopeDoesNotEvictOthers(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Mark("GUILD_CREATE", "g-1")
	for i := 0; i < 10; i++ {
		cache.Mark("MESSAGE_CREATE", fmt.Sprintf("msg-%d", i))
	}

	assert.True(t, cache.Check("GUILD_CREATE", "g-1"), "quiet scope keeps its history")
	assert.True(t, cache.Check("MESSAGE_CREATE", "msg-9"))
	assert.False(t, cache.Check("MESSAGE_CREATE", "msg-0"), "bursty scope evicts only itself")
}

func TestCache_RunCleanupRemovesExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("MESSAGE_CREATE", "a")
	cache.Mark("GUILD_CREATE", "b")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Empty(t, cache.scopes, "cleanup drops scopes that empty out")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tag := fmt.Sprintf("TAG_%d", id%3)
				key := fmt.Sprintf("msg-%d-%d", id, j%10)
				cache.Mark(tag, key)
				cache.Check(tag, key)
			}
		}(i)
	}
	wg.Wait()

	cache.Mark("MESSAGE_CREATE", "final")
	assert.True(t, cache.Check("MESSAGE_CREATE", "final"))
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Mark("MESSAGE_CREATE", "k")
	cache.Close()
	cache.Close()
}
