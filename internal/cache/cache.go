// Package cache provides the in-memory LRU-with-TTL tables shared across the
// service. Entries are evicted by capacity (least recently accessed first)
// and by age; nothing is persisted across restarts.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Table is a concurrency-safe LRU table with a per-table TTL.
type Table[V any] struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, V]
}

// NewTable creates a table holding at most capacity entries, each expiring
// ttl after insertion. Expired entries are dropped lazily on access and by
// the LRU's background sweep.
func NewTable[V any](capacity int, ttl time.Duration) *Table[V] {
	return &Table[V]{
		lru: expirable.NewLRU[string, V](capacity, nil, ttl),
	}
}

// Get returns the unexpired entry for key, marking it recently used.
func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Get(key)
}

// Put stores value under key, evicting the least recently used entry when
// the table is at capacity.
func (t *Table[V]) Put(key string, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Add(key, value)
}

// Invalidate removes key if present.
func (t *Table[V]) Invalidate(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Remove(key)
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// Purge drops every entry. Used on shutdown and by cache-clear admin calls.
func (t *Table[V]) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
}
