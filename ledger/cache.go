package ledger

import (
	"sync"
	"time"
)

// CachedLedger wraps a Ledger and serves direct reads from a TTL cache. The
// TTL is an advisory staleness hint (the engine's cache_ttl configuration);
// transactional reads always bypass the cache, and commits through a cached
// transaction invalidate the written addresses.
type CachedLedger struct {
	inner Ledger
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[Address]cacheEntry
}

var _ Ledger = (*CachedLedger)(nil)

type cacheEntry struct {
	data    []byte
	present bool
	expires time.Time
}

// NewCachedLedger wraps inner with a read cache. A non-positive ttl disables
// caching entirely (Get passes through).
func NewCachedLedger(inner Ledger, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Address]cacheEntry),
	}
}

// Get returns the record at addr, served from cache while fresh. Negative
// results are cached too.
func (c *CachedLedger) Get(addr Address) ([]byte, bool) {
	if c.ttl <= 0 {
		return c.inner.Get(addr)
	}

	c.mu.RLock()
	e, ok := c.entries[addr]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.data, e.present
	}

	data, present := c.inner.Get(addr)
	c.mu.Lock()
	c.entries[addr] = cacheEntry{data: data, present: present, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return data, present
}

// Begin starts a transaction on the underlying ledger. Reads inside the
// transaction are uncached; a successful commit invalidates the cache for
// every written address.
func (c *CachedLedger) Begin() *Tx {
	tx := c.inner.Begin()
	tx.OnCommit(c.invalidate)
	return tx
}

func (c *CachedLedger) invalidate(touched []Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, addr := range touched {
		delete(c.entries, addr)
	}
}
