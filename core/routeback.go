package core

// RouteBackCacheCapacity is the maximum number of entries RouteBackCache
// retains before the oldest insertions are evicted in batches.
const RouteBackCacheCapacity = 100_000

// RouteBackCacheEvictSeconds is the age, in seconds since insertion, past
// which an entry becomes eligible for eviction.
const RouteBackCacheEvictSeconds = 120

// RouteBackCacheRemoveBatch is the number of expired entries removed per
// eviction sweep, matching the original's batched-eviction behavior rather
// than scanning the whole cache on every insert.
const RouteBackCacheRemoveBatch = 100

type routeBackEntry struct {
	peer      PeerId
	insertedAt int64
}

// RouteBackCache maps a route-back Hash to the PeerId a message bearing
// that hash should be forwarded back to, bounding itself by both entry
// count and age (Invariants R1, R2). Insertion order is tracked so evict
// can remove the oldest entries in batches without a full scan.
type RouteBackCache struct {
	clock   Clock
	entries map[Hash]routeBackEntry
	order   []Hash
}

// NewRouteBackCache returns an empty RouteBackCache backed by clock.
func NewRouteBackCache(clock Clock) *RouteBackCache {
	return &RouteBackCache{
		clock:   clock,
		entries: make(map[Hash]routeBackEntry),
	}
}

// Insert records that hash should route back to peer, unless hash is
// already present, in which case the existing mapping is left untouched
// (Invariant R1: first writer wins). Returns true if the insert happened.
// Each insert triggers a bounded eviction sweep of RouteBackCacheRemoveBatch
// expired entries from the front of the insertion order.
func (c *RouteBackCache) Insert(hash Hash, peer PeerId) bool {
	c.evict()
	if _, exists := c.entries[hash]; exists {
		return false
	}
	c.entries[hash] = routeBackEntry{peer: peer, insertedAt: c.clock.Now()}
	c.order = append(c.order, hash)
	if len(c.order) > RouteBackCacheCapacity {
		c.evictOldest(RouteBackCacheRemoveBatch)
	}
	return true
}

// Get returns the peer hash currently resolves to, non-destructively
// (Invariant R2: lookups do not consume the entry — only Remove or
// expiry does).
func (c *RouteBackCache) Get(hash Hash) (PeerId, bool) {
	e, ok := c.entries[hash]
	if !ok {
		return PeerId{}, false
	}
	return e.peer, true
}

// Remove deletes hash from the cache, destructively, returning the peer it
// resolved to if present.
func (c *RouteBackCache) Remove(hash Hash) (PeerId, bool) {
	e, ok := c.entries[hash]
	if !ok {
		return PeerId{}, false
	}
	delete(c.entries, hash)
	return e.peer, true
}

// CompareRouteBack reports whether hash currently resolves to peer,
// without mutating the cache. Restored from the original's
// compare_route_back.
func (c *RouteBackCache) CompareRouteBack(hash Hash, peer PeerId) bool {
	e, ok := c.entries[hash]
	return ok && e.peer == peer
}

// Len returns the number of live entries.
func (c *RouteBackCache) Len() int { return len(c.entries) }

// evict removes up to RouteBackCacheRemoveBatch entries older than
// RouteBackCacheEvictSeconds from the front of the insertion order.
func (c *RouteBackCache) evict() {
	now := c.clock.Now()
	removed := 0
	for removed < RouteBackCacheRemoveBatch && len(c.order) > 0 {
		oldest := c.order[0]
		e, ok := c.entries[oldest]
		if !ok {
			c.order = c.order[1:]
			continue
		}
		if now-e.insertedAt < RouteBackCacheEvictSeconds {
			break
		}
		delete(c.entries, oldest)
		c.order = c.order[1:]
		removed++
	}
}

// evictOldest force-removes n entries from the front of the insertion
// order regardless of age, used to enforce RouteBackCacheCapacity.
func (c *RouteBackCache) evictOldest(n int) {
	for i := 0; i < n && len(c.order) > 0; i++ {
		oldest := c.order[0]
		delete(c.entries, oldest)
		c.order = c.order[1:]
	}
}
