// Package errorcache implements the negative/transient-error cache from
// spec §4.8: suppressing retry storms by caching 404/410 (negative) and
// 429/502/503/504 (transient) outcomes with per-status jittered TTLs,
// honoring Retry-After for 429.
package errorcache

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/coordinator"
)

// Policy is one status code's TTL rule: base duration, uniform jitter
// range, and whether a caller-supplied Retry-After can override the base.
type Policy struct {
	BaseTTL           time.Duration
	Jitter            time.Duration
	HonorsRetryAfter  bool
	IsNegativeCaching bool // 404/410: disableable independently of 5xx/429
}

// DefaultPolicies is the spec §4.8 status-code TTL table.
func DefaultPolicies() map[int]Policy {
	return map[int]Policy{
		404: {BaseTTL: 600 * time.Second, Jitter: 300 * time.Second, IsNegativeCaching: true},
		410: {BaseTTL: 5400 * time.Second, Jitter: 1800 * time.Second, IsNegativeCaching: true},
		429: {BaseTTL: 45 * time.Second, Jitter: 15 * time.Second, HonorsRetryAfter: true},
		502: {BaseTTL: 15 * time.Second, Jitter: 5 * time.Second},
		503: {BaseTTL: 30 * time.Second, Jitter: 10 * time.Second},
		504: {BaseTTL: 22 * time.Second, Jitter: 7 * time.Second},
	}
}

// CachedError is the persisted record for one suppressed status.
type CachedError struct {
	Key        string    `json:"key"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	RetryAfter *int      `json:"retry_after,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
}

// Cache is the error cache, backed by the Coordinator.
type Cache struct {
	co               *coordinator.Coordinator
	clock            clock.Clock
	namespaceVersion int
	policies         map[int]Policy
	negativeCaching  bool // global enable toggle for 404/410 (spec §4.8)

	mu         sync.Mutex
	activeKeys map[string]struct{} // cacheKey -> present, tracked for ClearAllErrors
}

// New wires an error Cache over an already-constructed Coordinator.
func New(co *coordinator.Coordinator, c clock.Clock, namespaceVersion int, policies map[int]Policy, negativeCachingEnabled bool) *Cache {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Cache{
		co:               co,
		clock:            c,
		namespaceVersion: namespaceVersion,
		policies:         policies,
		negativeCaching:  negativeCachingEnabled,
		activeKeys:       make(map[string]struct{}),
	}
}

func (c *Cache) cacheKey(key string, status int) string {
	return "error:" + itoa(status) + ":v" + itoa(c.namespaceVersion) + ":" + key
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// effectiveTTL computes the jittered TTL for status, honoring Retry-After
// for 429 per spec §4.8: effective = max(base+jitter, retry_after).
func (p Policy) effectiveTTL(retryAfter *int) time.Duration {
	jitterOffset := time.Duration((rand.Float64()*2 - 1) * float64(p.Jitter)) // uniform in [-Jitter, +Jitter]
	ttl := p.BaseTTL + jitterOffset
	if ttl < 0 {
		ttl = 0
	}
	if p.HonorsRetryAfter && retryAfter != nil {
		ra := time.Duration(*retryAfter) * time.Second
		if ra > ttl {
			ttl = ra
		}
	}
	return ttl
}

// CacheError records status for key with the computed TTL. When status is
// 404/410 and negative caching is globally disabled, this is a no-op
// (429/5xx are still recorded regardless of the toggle, per spec §4.8).
func (c *Cache) CacheError(key string, status int, message string, retryAfter *int) error {
	policy, ok := c.policies[status]
	if !ok {
		policy = Policy{BaseTTL: 30 * time.Second, Jitter: 10 * time.Second}
	}
	if policy.IsNegativeCaching && !c.negativeCaching {
		return nil
	}

	record := CachedError{
		Key:        key,
		StatusCode: status,
		Message:    message,
		RetryAfter: retryAfter,
		CachedAt:   c.clock.WallClock(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return cachetypes.NewError(cachetypes.KindValidation, "errorcache.CacheError", key, err)
	}

	ttl := policy.effectiveTTL(retryAfter)
	cacheKey := c.cacheKey(key, status)
	if err := c.co.Set(cacheKey, raw, ttl, "", cachetypes.DataTypeError, coordinator.TargetAuto); err != nil {
		return err
	}

	c.mu.Lock()
	c.activeKeys[cacheKey] = struct{}{}
	c.mu.Unlock()
	return nil
}

// IsErrorCached is a fast pre-check used by consumers to skip an upstream
// call when a matching error is already suppressed.
func (c *Cache) IsErrorCached(key string, status int) bool {
	_, ok := c.co.Get(c.cacheKey(key, status), coordinator.TargetAuto)
	return ok
}

// GetCachedError returns the full cached record for key/status, if any.
func (c *Cache) GetCachedError(key string, status int) (CachedError, bool, error) {
	raw, ok := c.co.Get(c.cacheKey(key, status), coordinator.TargetAuto)
	if !ok {
		return CachedError{}, false, nil
	}
	var record CachedError
	if err := json.Unmarshal(raw, &record); err != nil {
		return CachedError{}, false, cachetypes.NewError(cachetypes.KindValidation, "errorcache.GetCachedError", key, err)
	}
	return record, true, nil
}

// ClearError removes the cached entry for key/status.
func (c *Cache) ClearError(key string, status int) {
	cacheKey := c.cacheKey(key, status)
	c.co.Delete(cacheKey, coordinator.TargetAuto)

	c.mu.Lock()
	delete(c.activeKeys, cacheKey)
	c.mu.Unlock()
}

// ClearAllErrors removes every cached error entry this Cache has written,
// regardless of status. Raw keys may themselves contain ':' (spec's own
// S6 example key is "api:search"), which defeats keymatch's fixed-arity
// wildcard grammar once embedded in "error:{status}:v{ver}:{key}" — so
// this tracks issued cache keys explicitly rather than pattern-matching
// over the coordinator's colon-segmented grammar.
func (c *Cache) ClearAllErrors() int {
	c.mu.Lock()
	keys := make([]string, 0, len(c.activeKeys))
	for k := range c.activeKeys {
		keys = append(keys, k)
	}
	c.activeKeys = make(map[string]struct{})
	c.mu.Unlock()

	for _, k := range keys {
		c.co.Delete(k, coordinator.TargetAuto)
	}
	return len(keys)
}
