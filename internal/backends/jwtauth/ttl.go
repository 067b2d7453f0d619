package jwtauth

import (
	"sync"
	"time"
)

// ttl is a minimal in-process TTL cache. Expiration is lazy, on get.
type ttl[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]ttlEntry[V]
	now  func() time.Time
}

type ttlEntry[V any] struct {
	val V
	exp time.Time
}

func newTTL[K comparable, V any](now func() time.Time) *ttl[K, V] {
	return &ttl[K, V]{data: make(map[K]ttlEntry[V]), now: now}
}

// get returns the value and true if found and not expired.
func (t *ttl[K, V]) get(k K) (V, bool) {
	t.mu.RLock()
	e, ok := t.data[k]
	t.mu.RUnlock()
	if !ok || !t.now().Before(e.exp) {
		var zero V
		return zero, false
	}
	return e.val, true
}

func (t *ttl[K, V]) set(k K, v V, d time.Duration) {
	t.mu.Lock()
	t.data[k] = ttlEntry[V]{val: v, exp: t.now().Add(d)}
	t.mu.Unlock()
}

func (t *ttl[K, V]) remove(k K) {
	t.mu.Lock()
	delete(t.data, k)
	t.mu.Unlock()
}
