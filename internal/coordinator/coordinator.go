// Package coordinator implements the Cache Coordinator from spec §4.5: the
// single public cache contract consumers talk to, composing internal/l1
// and internal/l2 with write-through, read-through promotion, namespace
// versioning, and pattern invalidation. Per-key serialization follows
// the teacher's general pattern of sharding locks by a hash of the key
// rather than a single global mutex; cespare/xxhash/v2 (already pulled in
// transitively by badger) supplies the shard hash.
package coordinator

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l1"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l2"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/metrics"
)

// Target selects which tier(s) an operation applies to.
type Target string

const (
	TargetAuto Target = "auto"
	TargetL1   Target = "l1"
	TargetL2   Target = "l2"
)

// DefaultTTLByType is the spec §4.5 TTL table used when a caller doesn't
// supply an explicit TTL at Set time.
func DefaultTTLByType() map[cachetypes.DataType]time.Duration {
	return map[cachetypes.DataType]time.Duration{
		cachetypes.DataTypeSearch:     300 * time.Second,
		cachetypes.DataTypeRecord:     86400 * time.Second,
		cachetypes.DataTypeFulltext:   2592000 * time.Second,
		cachetypes.DataTypeError:      30 * time.Second,
		cachetypes.DataTypeCheckpoint: 604800 * time.Second,
	}
}

// Config holds the Coordinator's tunables, normally assembled from
// internal/cacheconfig.
type Config struct {
	NamespaceVersion int
	TTLByType        map[cachetypes.DataType]time.Duration
	DefaultTTL       time.Duration
	ShardCount       int
}

// Coordinator composes L1 and L2 behind the spec's single cache contract.
type Coordinator struct {
	l1      *l1.Cache
	l2      *l2.Store // nil when L2 is disabled
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *zap.Logger
	cfg     Config
	shards  []sync.Mutex
}

// New wires a Coordinator over already-constructed tiers. l2Store may be
// nil if L2 is disabled by configuration.
func New(l1Cache *l1.Cache, l2Store *l2.Store, m *metrics.Metrics, c clock.Clock, logger *zap.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.New()
	}
	if cfg.TTLByType == nil {
		cfg.TTLByType = DefaultTTLByType()
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 64
	}
	return &Coordinator{
		l1:      l1Cache,
		l2:      l2Store,
		metrics: m,
		clock:   c,
		logger:  logger,
		cfg:     cfg,
		shards:  make([]sync.Mutex, cfg.ShardCount),
	}
}

func (co *Coordinator) shardFor(key string) *sync.Mutex {
	idx := xxhash.Sum64String(key) % uint64(len(co.shards))
	return &co.shards[idx]
}

// setL1 writes through to L1 and reports any evictions the write caused.
func (co *Coordinator) setL1(key string, value []byte, ttl time.Duration, tag string, dataType cachetypes.DataType) {
	before := co.l1.Stats().Evictions
	co.l1.Set(key, value, ttl, tag, dataType)
	co.metrics.RecordEvictions(metrics.TierL1, co.l1.Stats().Evictions-before)
}

// setL2 writes through to L2 and reports any evictions the write caused.
func (co *Coordinator) setL2(key string, value []byte, ttl time.Duration, tag string, dataType cachetypes.DataType) error {
	before := co.l2.Stats().Evictions
	err := co.l2.Set(key, value, ttl, tag, dataType)
	co.metrics.RecordEvictions(metrics.TierL2, co.l2.Stats().Evictions-before)
	return err
}

// ttlFor derives the TTL to use for a write when the caller didn't supply
// one explicitly, per spec §4.5's defaulting rule.
func (co *Coordinator) ttlFor(ttl time.Duration, dataType cachetypes.DataType) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if configured, ok := co.cfg.TTLByType[dataType]; ok {
		return configured
	}
	return co.cfg.DefaultTTL
}

// Get performs a read, trying L1 first and falling back to L2 with
// promotion back into L1 on an L2 hit, per spec §4.5.
func (co *Coordinator) Get(key string, target Target) ([]byte, bool) {
	shard := co.shardFor(key)
	shard.Lock()
	defer shard.Unlock()

	if target == TargetAuto || target == TargetL1 {
		var l1Hit bool
		var v []byte
		timer := metrics.StartTimer(func(ms float64) {
			if l1Hit {
				co.metrics.RecordHit(metrics.TierL1, ms)
			}
		})
		v, l1Hit = co.l1.Get(key)
		timer.Stop()

		if l1Hit {
			return v, true
		}
		co.metrics.RecordMiss(metrics.TierL1)
		if target == TargetL1 {
			return nil, false
		}
	}

	if co.l2 == nil || target == TargetL1 {
		return nil, false
	}

	var (
		hit l2.Hit
		ok  bool
		err error
	)
	func() {
		timer := metrics.StartTimer(func(ms float64) {
			if ok {
				co.metrics.RecordHit(metrics.TierL2, ms)
			}
		})
		defer timer.Stop()
		hit, ok, err = co.l2.GetEntry(key)
	}()

	if err != nil {
		// Tier errors on read degrade to a miss, never a user-visible
		// failure (spec §4.5/§7).
		co.logger.Warn("l2 get failed, degrading to miss", zap.String("op", "coordinator.Get"), zap.Error(err))
		co.metrics.RecordError(metrics.TierL2)
		return nil, false
	}
	if !ok {
		co.metrics.RecordMiss(metrics.TierL2)
		return nil, false
	}

	if target == TargetAuto {
		co.setL1(key, hit.Value, hit.RemainingTTL, hit.Tag, hit.DataType)
	}
	return hit.Value, true
}

// Set writes through to the targeted tier(s). auto writes both; a
// tier-specific target writes only that tier.
func (co *Coordinator) Set(key string, value []byte, ttl time.Duration, tag string, dataType cachetypes.DataType, target Target) error {
	shard := co.shardFor(key)
	shard.Lock()
	defer shard.Unlock()

	effectiveTTL := co.ttlFor(ttl, dataType)

	var l1Written, l2Written, l2Attempted bool

	if target == TargetAuto || target == TargetL1 {
		co.setL1(key, value, effectiveTTL, tag, dataType)
		co.metrics.RecordSet(metrics.TierL1)
		l1Written = true
	}

	var l2Err error
	if co.l2 != nil && (target == TargetAuto || target == TargetL2) {
		l2Attempted = true
		if err := co.setL2(key, value, effectiveTTL, tag, dataType); err != nil {
			co.logger.Warn("l2 set failed", zap.String("op", "coordinator.Set"), zap.Error(err))
			co.metrics.RecordError(metrics.TierL2)
			l2Err = err
		} else {
			co.metrics.RecordSet(metrics.TierL2)
			l2Written = true
		}
	}

	// A write fails the caller only when every targeted tier failed
	// (spec §7): if L1 succeeded, or L2 wasn't attempted/targeted, this is
	// not an overall failure even if L2 errored.
	if l2Attempted && l2Err != nil && !l1Written && !l2Written {
		return l2Err
	}
	return nil
}

// Delete removes key from the targeted tier(s), best-effort.
func (co *Coordinator) Delete(key string, target Target) {
	shard := co.shardFor(key)
	shard.Lock()
	defer shard.Unlock()

	if target == TargetAuto || target == TargetL1 {
		co.l1.Delete(key)
		co.metrics.RecordDelete(metrics.TierL1)
	}
	if co.l2 != nil && (target == TargetAuto || target == TargetL2) {
		if err := co.l2.Delete(key); err != nil {
			co.logger.Warn("l2 delete failed", zap.String("op", "coordinator.Delete"), zap.Error(err))
			co.metrics.RecordError(metrics.TierL2)
		} else {
			co.metrics.RecordDelete(metrics.TierL2)
		}
	}
}

// InvalidatePattern removes every key matching the colon-segmented
// pattern from both tiers and returns the total count removed.
func (co *Coordinator) InvalidatePattern(pattern string) int {
	removed := co.l1.DeleteMatching(pattern)
	if co.l2 != nil {
		n, err := co.l2.DeleteMatching(pattern)
		if err != nil {
			co.logger.Warn("l2 invalidate_pattern failed", zap.String("pattern", pattern), zap.Error(err))
			co.metrics.RecordError(metrics.TierL2)
		}
		removed += n
	}
	return removed
}

// Clear wipes the targeted tier(s).
func (co *Coordinator) Clear(target Target) {
	if target == TargetAuto || target == TargetL1 {
		co.l1.Clear()
	}
	if co.l2 != nil && (target == TargetAuto || target == TargetL2) {
		if err := co.l2.Clear(); err != nil {
			co.logger.Warn("l2 clear failed", zap.Error(err))
			co.metrics.RecordError(metrics.TierL2)
		}
	}
}

// WarmEntry is one item in a bulk Warm call.
type WarmEntry struct {
	Key      string
	Value    []byte
	Tag      string
	DataType cachetypes.DataType
}

// Warm bulk-inserts entries with a shared TTL override (0 uses each
// entry's data-type default) and returns the count that succeeded.
func (co *Coordinator) Warm(entries []WarmEntry, ttl time.Duration) int {
	succeeded := 0
	for _, e := range entries {
		if err := co.Set(e.Key, e.Value, ttl, e.Tag, e.DataType, TargetAuto); err == nil {
			succeeded++
		}
	}
	return succeeded
}

// GetOrCompute is the §9 re-architecture helper replacing decorator-based
// caching: on a miss, computeFn is invoked to produce the value, which is
// then written through and returned.
func (co *Coordinator) GetOrCompute(key string, dataType cachetypes.DataType, computeFn func() ([]byte, error)) ([]byte, error) {
	if v, ok := co.Get(key, TargetAuto); ok {
		return v, nil
	}
	v, err := computeFn()
	if err != nil {
		return nil, err
	}
	if err := co.Set(key, v, 0, "", dataType, TargetAuto); err != nil {
		co.logger.Warn("get_or_compute set failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Stats returns the current Metrics snapshot.
func (co *Coordinator) Stats() metrics.Snapshot {
	return co.metrics.Snapshot()
}

// L1SizeBytes and L2SizeBytes expose tier introspection for health
// reporting.
func (co *Coordinator) L1SizeBytes() int64 { return co.l1.SizeBytes() }

func (co *Coordinator) L2SizeBytes() int64 {
	if co.l2 == nil {
		return 0
	}
	return co.l2.SizeBytes()
}
