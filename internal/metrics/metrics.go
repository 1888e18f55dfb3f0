// Package metrics implements spec §4.9: per-tier atomic counters, hit
// latency percentiles, and uptime/throughput tracking. Counter shape is
// adapted from the teacher's internal/cache/metrics.go MetricsTracker,
// trimmed from per-key tracking (which this spec doesn't call for) down to
// the per-tier aggregate counters spec §4.3/§4.9 actually require, with
// atomic increments replacing the teacher's mutex-guarded maps since the
// counter set here is fixed-shape rather than keyed.
package metrics

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/latency"
)

// Tier identifies which cache layer a counter update applies to.
type Tier string

const (
	TierL1 Tier = "l1"
	TierL2 Tier = "l2"
)

type tierCounters struct {
	hits, misses, sets, deletes, errors, evictions int64
}

func (c *tierCounters) snapshot() cachetypes.TierStats {
	return cachetypes.TierStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Errors:    atomic.LoadInt64(&c.errors),
	}
}

// TierSnapshot pairs a tier's counters with its hit-latency distribution.
type TierSnapshot struct {
	cachetypes.TierStats
	Latency latency.Snapshot
}

// Snapshot is the aggregate view returned by get_metrics() in spec §4.9.
type Snapshot struct {
	L1                   TierSnapshot
	L2                   TierSnapshot
	TotalDownloadedBytes int64
	Uptime               time.Duration
	HitRate              float64
	ErrorRate            float64
}

// Metrics aggregates per-layer counters and latencies, per spec §4.9.
type Metrics struct {
	l1        tierCounters
	l2        tierCounters
	l1Latency *latency.Stats
	l2Latency *latency.Stats

	totalDownloadedBytes int64 // atomic
	startTime            time.Time
	logger               *zap.Logger
}

// New creates a Metrics instance with a latency ring buffer of the given
// window size per tier (spec §4.1 default 1000).
func New(window int, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metrics{
		l1Latency: latency.New(window),
		l2Latency: latency.New(window),
		startTime: time.Now(),
		logger:    logger,
	}
}

func (m *Metrics) counters(tier Tier) *tierCounters {
	if tier == TierL2 {
		return &m.l2
	}
	return &m.l1
}

func (m *Metrics) latencyStats(tier Tier) *latency.Stats {
	if tier == TierL2 {
		return m.l2Latency
	}
	return m.l1Latency
}

// RecordHit increments the tier's hit counter and records the observed
// latency in milliseconds.
func (m *Metrics) RecordHit(tier Tier, elapsedMs float64) {
	atomic.AddInt64(&m.counters(tier).hits, 1)
	m.latencyStats(tier).AddSample(elapsedMs)
}

// RecordMiss increments the tier's miss counter.
func (m *Metrics) RecordMiss(tier Tier) {
	atomic.AddInt64(&m.counters(tier).misses, 1)
}

// RecordSet increments the tier's set counter.
func (m *Metrics) RecordSet(tier Tier) {
	atomic.AddInt64(&m.counters(tier).sets, 1)
}

// RecordDelete increments the tier's delete counter.
func (m *Metrics) RecordDelete(tier Tier) {
	atomic.AddInt64(&m.counters(tier).deletes, 1)
}

// RecordError increments the tier's error counter.
func (m *Metrics) RecordError(tier Tier) {
	atomic.AddInt64(&m.counters(tier).errors, 1)
}

// RecordEvictions increments the tier's eviction counter by n, for callers
// that learn how many entries a single write evicted only after the fact.
func (m *Metrics) RecordEvictions(tier Tier, n int64) {
	if n <= 0 {
		return
	}
	atomic.AddInt64(&m.counters(tier).evictions, n)
}

// AddDownloadedBytes accumulates bytes served through the cache, used by
// health/usage reporting.
func (m *Metrics) AddDownloadedBytes(n int64) {
	atomic.AddInt64(&m.totalDownloadedBytes, n)
}

// Uptime returns elapsed time since this Metrics instance was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot computes the aggregate metrics report, deriving hit_rate and
// error_rate across both tiers per spec §4.9.
func (m *Metrics) Snapshot() Snapshot {
	l1 := m.l1.snapshot()
	l2 := m.l2.snapshot()

	totalHits := l1.Hits + l2.Hits
	totalMisses := l1.Misses + l2.Misses
	totalOps := totalHits + totalMisses + l1.Sets + l2.Sets + l1.Deletes + l2.Deletes
	totalErrors := l1.Errors + l2.Errors

	var hitRate, errorRate float64
	if totalHits+totalMisses > 0 {
		hitRate = float64(totalHits) / float64(totalHits+totalMisses)
	}
	if totalOps > 0 {
		errorRate = float64(totalErrors) / float64(totalOps)
	}

	return Snapshot{
		L1:                   TierSnapshot{TierStats: l1, Latency: m.l1Latency.Snapshot()},
		L2:                   TierSnapshot{TierStats: l2, Latency: m.l2Latency.Snapshot()},
		TotalDownloadedBytes: atomic.LoadInt64(&m.totalDownloadedBytes),
		Uptime:               m.Uptime(),
		HitRate:              hitRate,
		ErrorRate:            errorRate,
	}
}
