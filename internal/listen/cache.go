package listen

import (
	"sync"

	"firestorm/internal/types"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultStaleEntries = 1024

// Cache holds the latest snapshot per subscription key.
// Snapshots of live keys are kept until overwritten. When a key drains, Retire moves its
// snapshot into a bounded LRU, so a quick re-attach still gets stale-but-present data.
type Cache struct {
	mu    sync.RWMutex
	live  map[string]stamped
	stale *lru.Cache[string, stamped]
}

// stamped is a cached snapshot with the delivery sequence it was pushed at.
type stamped struct {
	snap types.Snapshot
	seq  uint64
}

func NewCache(staleEntries int) *Cache {
	if staleEntries <= 0 {
		staleEntries = DefaultStaleEntries
	}
	stale, _ := lru.New[string, stamped](staleEntries)
	return &Cache{live: make(map[string]stamped), stale: stale}
}

// Get returns the live snapshot for key, falling back to a retired one.
func (c *Cache) Get(key string) (types.Snapshot, bool) {
	st, ok := c.lookup(key)
	return st.snap, ok
}

func (c *Cache) lookup(key string) (stamped, bool) {
	c.mu.RLock()
	st, ok := c.live[key]
	c.mu.RUnlock()
	if ok {
		return st, true
	}
	return c.stale.Get(key)
}

// Put replaces the snapshot for key.
func (c *Cache) Put(key string, snap types.Snapshot) {
	c.put(key, snap, 0)
}

func (c *Cache) put(key string, snap types.Snapshot, seq uint64) {
	c.mu.Lock()
	c.live[key] = stamped{snap: snap, seq: seq}
	c.mu.Unlock()
	c.stale.Remove(key)
}

// Retire moves the live snapshot for key into the stale tier.
func (c *Cache) Retire(key string) {
	c.mu.Lock()
	st, ok := c.live[key]
	delete(c.live, key)
	c.mu.Unlock()
	if ok {
		c.stale.Add(key, st)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.live) + c.stale.Len()
}

// Reset drops every snapshot.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.live = make(map[string]stamped)
	c.mu.Unlock()
	c.stale.Purge()
}
