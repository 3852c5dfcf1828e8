package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sells-group/feedback-cli/internal/model"
)

// Key derives the cache key for a row under a catalog signature. Any change
// to the enabled catalog, the row identity or its rendered context yields a
// new key.
func Key(signature, rowHash, rowContext string) string {
	sum := sha256.Sum256([]byte(signature + "||row||" + rowHash + "||" + rowContext))
	return hex.EncodeToString(sum[:])
}

// Cache is the in-memory view of the append-only classification log: for
// each key it holds the entry with the highest sequence number seen.
type Cache struct {
	mu     sync.RWMutex
	latest map[string]model.CacheEntry
	// next is handed to entries created in this process; it stays above
	// every replayed seq so they keep winning.
	next int64
}

// NewCache replays log into a Cache. Entries may arrive in any order.
func NewCache(log []model.CacheEntry) *Cache {
	c := &Cache{latest: make(map[string]model.CacheEntry, len(log))}
	for _, e := range log {
		c.apply(e)
	}
	return c
}

func (c *Cache) apply(e model.CacheEntry) {
	if cur, ok := c.latest[e.Key]; !ok || e.Seq >= cur.Seq {
		c.latest[e.Key] = e
	}
	if e.Seq >= c.next {
		c.next = e.Seq + 1
	}
}

// Get returns the latest raw items stored under key.
func (c *Cache) Get(key string) ([]model.TagItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.latest[key]
	if !ok {
		return nil, false
	}
	return append([]model.TagItem{}, e.Items...), true
}

// Put appends an entry. A zero Seq is replaced by the next local sequence,
// so a later Put for the same key always shadows an earlier one.
func (c *Cache) Put(e model.CacheEntry) model.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.Seq == 0 {
		e.Seq = c.next
	}
	c.apply(e)
	return e
}

// Len returns the number of distinct keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.latest)
}
