// ABOUTME: Scoped TTL cache for suppressing replayed event dispatches.
// ABOUTME: Each scope is bounded separately with O(1) oldest-first eviction.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and list element for a cached key.
type entry struct {
	timestamp time.Time
	element   *list.Element
}

// scope is one event type's partition: its own key set and insertion
// order, so a bursty event type evicts only its own history.
type scope struct {
	seen  map[string]*entry
	order *list.List // oldest at front
}

// Cache tracks recently seen event keys, partitioned by scope (callers
// use the event tag). Entries expire after the TTL and the oldest entry
// in a scope is evicted when that scope is full, so memory stays bounded
// however long the session runs and however uneven the event mix is.
type Cache struct {
	mu       sync.Mutex
	scopes   map[string]*scope
	ttl      time.Duration
	perScope int
	done     chan struct{}
	closed   bool
}

// New creates a dedupe cache with the specified TTL and per-scope size
// cap. A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, perScope int) *Cache {
	c := &Cache{
		scopes:   make(map[string]*scope),
		ttl:      ttl,
		perScope: perScope,
		done:     make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Check returns true if the key has been seen in the scope and is not
// expired.
func (c *Cache) Check(scopeName, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.scopes[scopeName]
	if !ok {
		return false
	}
	e, ok := sc.seen[key]
	return ok && time.Since(e.timestamp) < c.ttl
}

// CheckAndMark atomically checks whether a key has been seen in the
// scope and marks it if not. Returns true for a duplicate. The combined
// operation avoids the TOCTOU race of separate Check/Mark calls under
// dispatch concurrency.
func (c *Cache) CheckAndMark(scopeName, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sc, ok := c.scopes[scopeName]; ok {
		if e, ok := sc.seen[key]; ok && time.Since(e.timestamp) < c.ttl {
			return true
		}
	}

	c.markLocked(scopeName, key)
	return false
}

// Mark records that a key has been seen in the scope. If the scope is at
// capacity, its oldest entry is evicted to make room.
func (c *Cache) Mark(scopeName, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(scopeName, key)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(scopeName, key string) {
	now := time.Now()

	sc, ok := c.scopes[scopeName]
	if !ok {
		sc = &scope{seen: make(map[string]*entry), order: list.New()}
		c.scopes[scopeName] = sc
	}

	// A re-marked key keeps one entry; refresh and move to back.
	if e, exists := sc.seen[key]; exists {
		e.timestamp = now
		sc.order.MoveToBack(e.element)
		return
	}

	if len(sc.seen) >= c.perScope {
		sc.evictOldest()
	}

	sc.seen[key] = &entry{
		timestamp: now,
		element:   sc.order.PushBack(key),
	}
}

// evictOldest removes the scope's oldest entry.
func (sc *scope) evictOldest() {
	front := sc.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	sc.order.Remove(front)
	delete(sc.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries, dropping scopes that empty out.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for name, sc := range c.scopes {
		for key, e := range sc.seen {
			if now.Sub(e.timestamp) > c.ttl {
				sc.order.Remove(e.element)
				delete(sc.seen, key)
			}
		}
		if len(sc.seen) == 0 {
			delete(c.scopes, name)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
