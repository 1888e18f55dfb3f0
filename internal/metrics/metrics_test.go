package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/metrics"
)

func TestMetrics_HitMissCounters(t *testing.T) {
	m := metrics.New(100, zap.NewNop())

	m.RecordHit(metrics.TierL1, 1.5)
	m.RecordHit(metrics.TierL1, 2.5)
	m.RecordMiss(metrics.TierL1)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.L1.Hits)
	assert.Equal(t, int64(1), snap.L1.Misses)
	assert.InDelta(t, 2.0/3.0, snap.HitRate, 0.001)
}

func TestMetrics_ErrorRate(t *testing.T) {
	m := metrics.New(100, zap.NewNop())

	m.RecordHit(metrics.TierL1, 1)
	m.RecordHit(metrics.TierL1, 1)
	m.RecordError(metrics.TierL2)

	snap := m.Snapshot()
	assert.Greater(t, snap.ErrorRate, 0.0)
}

func TestMetrics_EmptySnapshotHasZeroRates(t *testing.T) {
	m := metrics.New(100, zap.NewNop())
	snap := m.Snapshot()

	assert.Equal(t, 0.0, snap.HitRate)
	assert.Equal(t, 0.0, snap.ErrorRate)
}

func TestMetrics_LatencyPercentilesTracked(t *testing.T) {
	m := metrics.New(100, zap.NewNop())
	for i := 1; i <= 100; i++ {
		m.RecordHit(metrics.TierL1, float64(i))
	}

	snap := m.Snapshot()
	assert.InDelta(t, 99, snap.L1.Latency.P99, 1)
}

func TestMetrics_UptimeAdvances(t *testing.T) {
	m := metrics.New(100, zap.NewNop())
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, m.Uptime(), time.Duration(0))
}

func TestTimer_RecordsElapsedOnStop(t *testing.T) {
	var recorded float64
	timer := metrics.StartTimer(func(ms float64) { recorded = ms })
	time.Sleep(5 * time.Millisecond)
	timer.Stop()

	assert.Greater(t, recorded, 0.0)
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	calls := 0
	timer := metrics.StartTimer(func(ms float64) { calls++ })
	timer.Stop()
	timer.Stop()

	assert.Equal(t, 1, calls)
}

func TestTimer_DeferredStopFiresOnEarlyReturn(t *testing.T) {
	var recorded bool
	fn := func() {
		timer := metrics.StartTimer(func(ms float64) { recorded = true })
		defer timer.Stop()
		return
	}
	fn()
	assert.True(t, recorded)
}
