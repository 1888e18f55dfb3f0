// Package l1 implements the in-memory first-tier cache from spec §4.3: a
// bounded, single-process map with TTL + LRU eviction and byte-size
// accounting. The list-based LRU bookkeeping is adapted from the teacher's
// internal/cache/sized_cache.go (container/list + map[string]*list.Element),
// generalized with TTL expiry and tag-based bulk eviction that SizedLRU
// does not have.
package l1

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/keymatch"
)

// Cache is the bounded in-memory L1 tier.
type Cache struct {
	mu         sync.Mutex
	budget     int64
	usedBytes  int64
	items      map[string]*list.Element // key -> element holding *entry
	lru        *list.List                // front = most recently used
	clock      clock.Clock
	logger     *zap.Logger
	stats      cachetypes.TierStats
}

// entry is the list.Element payload. container/list already encodes
// insertion order for untouched elements (PushFront keeps oldest-inserted
// closest to Back()), which is exactly the tie-break spec §4.3 requires:
// "ties broken by insertion order (oldest first)".
type entry struct {
	cachetypes.Entry
}

// New creates an L1 cache bounded by budgetBytes.
func New(budgetBytes int64, c clock.Clock, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		budget: budgetBytes,
		items:  make(map[string]*list.Element),
		lru:    list.New(),
		clock:  c,
		logger: logger,
	}
}

// Get returns the value for key, or (nil, false) on miss or expiry. A hit
// updates last-access and moves the entry to the front of the LRU list.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	e := elem.Value.(*entry)
	now := c.clock.Now()
	if e.Expired(now) {
		c.removeElementLocked(elem)
		c.stats.Misses++
		return nil, false
	}

	e.LastAccess = c.clock.WallClock()
	c.lru.MoveToFront(elem)
	c.stats.Hits++

	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, true
}

// Set inserts or replaces key atomically, evicting LRU entries as needed to
// respect the byte budget.
func (c *Cache) Set(key string, value []byte, ttl time.Duration, tag string, dataType cachetypes.DataType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(value))
	now := c.clock.Now()
	wall := c.clock.WallClock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*entry)
		c.usedBytes -= old.Size
		old.Value = cloneBytes(value)
		old.Size = size
		old.CreatedAt = wall
		old.ExpiresAt = expiresAt
		old.Tag = tag
		old.DataType = dataType
		old.LastAccess = wall
		c.lru.MoveToFront(elem)
		c.usedBytes += size
		c.stats.Sets++
		c.evictToBudgetLocked()
		return
	}

	e := &entry{
		Entry: cachetypes.Entry{
			Key:        key,
			Value:      cloneBytes(value),
			Size:       size,
			CreatedAt:  wall,
			ExpiresAt:  expiresAt,
			Tag:        tag,
			DataType:   dataType,
			LastAccess: wall,
		},
	}
	elem := c.lru.PushFront(e)
	c.items[key] = elem
	c.usedBytes += size
	c.stats.Sets++

	c.evictToBudgetLocked()
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElementLocked(elem)
		c.stats.Deletes++
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru = list.New()
	c.usedBytes = 0
}

// KeysMatching returns all live (non-expired) keys matching the
// colon-segmented pattern (spec §4.5 pattern grammar, shared with
// coordinator.InvalidatePattern).
func (c *Cache) KeysMatching(pattern string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var out []string
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		it := e.Value.(*entry)
		if it.Expired(now) {
			c.removeElementLocked(e)
			e = next
			continue
		}
		if keymatch.Match(pattern, it.Key) {
			out = append(out, it.Key)
		}
		e = next
	}
	return out
}

// DeleteMatching removes every live entry matching pattern and returns the
// count removed.
func (c *Cache) DeleteMatching(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		it := e.Value.(*entry)
		if keymatch.Match(pattern, it.Key) {
			c.removeElementLocked(e)
			c.stats.Deletes++
			removed++
		}
		e = next
	}
	return removed
}

// DeleteTag removes every entry carrying the given tag (free-form bulk
// eviction label from spec §3).
func (c *Cache) DeleteTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		it := e.Value.(*entry)
		if it.Tag == tag {
			c.removeElementLocked(e)
			c.stats.Deletes++
			removed++
		}
		e = next
	}
	return removed
}

// SizeBytes returns current byte usage.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Budget returns the configured byte budget.
func (c *Cache) Budget() int64 {
	return c.budget
}

// Len returns the number of live entries, purging expired ones first.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked()
	return c.lru.Len()
}

// Stats returns a snapshot of the hit/miss/eviction counters.
func (c *Cache) Stats() cachetypes.TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// --- internal helpers (caller must hold c.mu) ---

func (c *Cache) evictToBudgetLocked() {
	for c.usedBytes > c.budget && c.lru.Len() > 0 {
		back := c.lru.Back()
		c.removeElementLocked(back)
		c.stats.Evictions++
	}
}

func (c *Cache) purgeExpiredLocked() {
	now := c.clock.Now()
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		if e.Value.(*entry).Expired(now) {
			c.removeElementLocked(e)
		}
		e = next
	}
}

func (c *Cache) removeElementLocked(elem *list.Element) {
	it := elem.Value.(*entry)
	c.usedBytes -= it.Size
	delete(c.items, it.Key)
	c.lru.Remove(elem)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
