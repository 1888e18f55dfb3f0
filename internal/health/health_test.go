package health_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/health"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/metrics"
)

func TestHealth_HealthyWhenNoThresholdsBreached(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New(100, zap.NewNop())
	m.RecordHit(metrics.TierL1, 1.0)

	mon := health.New(health.Thresholds{MinHitRate: 0.5}, m, nil, fc, zap.NewNop())
	report := mon.CheckHealth()

	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
}

func TestHealth_WarningOnLowHitRate(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New(100, zap.NewNop())
	m.RecordHit(metrics.TierL1, 1.0)
	m.RecordMiss(metrics.TierL1)
	m.RecordMiss(metrics.TierL1)
	m.RecordMiss(metrics.TierL1)

	mon := health.New(health.Thresholds{MinHitRate: 0.5}, m, nil, fc, zap.NewNop())
	report := mon.CheckHealth()

	assert.Equal(t, health.StatusWarning, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, health.SeverityWarning, report.Issues[0].Severity)
}

func TestHealth_CriticalOnDiskUsageBreach(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New(100, zap.NewNop())

	diskUsage := func() (int64, int64) { return 900, 1000 } // 90% of budget

	mon := health.New(health.Thresholds{MaxL2DiskUsageFraction: 0.85}, m, diskUsage, fc, zap.NewNop())
	report := mon.CheckHealth()

	assert.Equal(t, health.StatusCritical, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "l2", report.Issues[0].Layer)
	assert.Equal(t, health.SeverityCritical, report.Issues[0].Severity)

	require.Len(t, mon.Incidents(), 1)
	assert.NotEmpty(t, mon.Incidents()[0].ID)
}

func TestHealth_AlertCallbacksInvokedInRegistrationOrder(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New(100, zap.NewNop())
	diskUsage := func() (int64, int64) { return 900, 1000 }

	mon := health.New(health.Thresholds{MaxL2DiskUsageFraction: 0.85}, m, diskUsage, fc, zap.NewNop())

	var order []int
	mon.AddAlertCallback(func(health.Report) { order = append(order, 1) })
	mon.AddAlertCallback(func(health.Report) { order = append(order, 2) })

	mon.CheckHealth()

	assert.Equal(t, []int{1, 2}, order)
}

func TestHealth_PanickingCallbackDoesNotAbortDispatch(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New(100, zap.NewNop())
	diskUsage := func() (int64, int64) { return 900, 1000 }

	mon := health.New(health.Thresholds{MaxL2DiskUsageFraction: 0.85}, m, diskUsage, fc, zap.NewNop())

	secondCalled := false
	mon.AddAlertCallback(func(health.Report) { panic("boom") })
	mon.AddAlertCallback(func(health.Report) { secondCalled = true })

	assert.NotPanics(t, func() { mon.CheckHealth() })
	assert.True(t, secondCalled)
}

func TestHealth_DiskUsageCheckSkippedWithoutBudget(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New(100, zap.NewNop())
	diskUsage := func() (int64, int64) { return 900, 0 } // unconfigured budget

	mon := health.New(health.Thresholds{MaxL2DiskUsageFraction: 0.85}, m, diskUsage, fc, zap.NewNop())
	report := mon.CheckHealth()

	assert.Equal(t, health.StatusHealthy, report.Status)
}
