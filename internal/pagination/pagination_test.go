package pagination_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/coordinator"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l1"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l2"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/metrics"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/pagination"
)

func newTestCheckpoint(t *testing.T) (*pagination.Checkpoint, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l1c := l1.New(1<<20, fc, zap.NewNop())
	l2s, err := l2.Open(filepath.Join(t.TempDir(), "store"), 1<<20, fc, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2s.Close() })
	m := metrics.New(100, zap.NewNop())
	co := coordinator.New(l1c, l2s, m, fc, zap.NewNop(), coordinator.Config{})
	return pagination.NewCheckpoint(co, 1), fc
}

func TestState_ProgressPercentZeroWhenTotalUnknown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := pagination.NewState("covid", 50, now)
	assert.Equal(t, 0.0, s.ProgressPercent())
}

func TestState_ProgressPercentComputed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 500
	s := pagination.NewState("covid", 50, now).Update(now, nil, 100, &total)
	assert.Equal(t, 20.0, s.ProgressPercent())
}

func TestState_EstimatedRemainingTimeRequiresFetchedAndTotal(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := pagination.NewState("covid", 50, now)
	_, ok := s.EstimatedRemainingTime(now)
	assert.False(t, ok)
}

func TestState_EstimatedRemainingTimeComputed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 500
	s := pagination.NewState("covid", 50, start).Update(start.Add(10*time.Second), nil, 100, &total)
	remaining, ok := s.EstimatedRemainingTime(start.Add(10 * time.Second))
	require.True(t, ok)
	assert.InDelta(t, 40*time.Second, remaining, float64(time.Second))
}

func TestCheckpoint_SaveThenLoadRoundTrips(t *testing.T) {
	cp, fc := newTestCheckpoint(t)
	state := pagination.NewState("covid", 50, fc.WallClock())

	require.NoError(t, cp.Save(state))

	loaded, ok, err := cp.Load("covid")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, loaded)
}

func TestCheckpoint_LoadMissingReturnsFalse(t *testing.T) {
	cp, _ := newTestCheckpoint(t)
	_, ok, err := cp.Load("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpoint_DeleteRemovesState(t *testing.T) {
	cp, fc := newTestCheckpoint(t)
	state := pagination.NewState("covid", 50, fc.WallClock())
	require.NoError(t, cp.Save(state))

	require.NoError(t, cp.Delete("covid"))
	assert.False(t, cp.Exists("covid"))
}

func TestCursorPaginator_ResumesFromCheckpointAfterCrash(t *testing.T) {
	cp, fc := newTestCheckpoint(t)

	total := 500
	p1, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)
	cursor := "c1"
	require.NoError(t, p1.UpdateProgress(&cursor, 100, &total))

	p2, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)

	assert.Equal(t, 2, p2.State().Page)
	assert.Equal(t, "c1", *p2.State().Cursor)
	assert.Equal(t, 100, p2.State().FetchedCount)
	assert.Equal(t, 20.0, p2.State().ProgressPercent())
}

func TestCursorPaginator_NoResumeStartsFresh(t *testing.T) {
	cp, fc := newTestCheckpoint(t)

	total := 500
	cursor := "c1"
	p1, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)
	require.NoError(t, p1.UpdateProgress(&cursor, 100, &total))

	p2, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.State().Page)
	assert.Nil(t, p2.State().Cursor)
}

func TestCursorPaginator_CompletedCheckpointStartsFreshOnResume(t *testing.T) {
	cp, fc := newTestCheckpoint(t)

	p1, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)
	require.NoError(t, p1.MarkCompleted())

	p2, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.State().Page)
	assert.False(t, p2.IsComplete())
}

func TestCursorPaginator_IsCompleteWhenFetchedReachesTotal(t *testing.T) {
	cp, fc := newTestCheckpoint(t)

	total := 100
	cursor := "c1"
	p, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)
	require.NoError(t, p.UpdateProgress(&cursor, 100, &total))

	assert.True(t, p.IsComplete())
}

func TestCursorPaginator_ResetDiscardsCheckpoint(t *testing.T) {
	cp, fc := newTestCheckpoint(t)

	total := 500
	cursor := "c1"
	p, err := pagination.NewCursorPaginator(cp, fc, "covid", 100, true, false)
	require.NoError(t, err)
	require.NoError(t, p.UpdateProgress(&cursor, 100, &total))

	require.NoError(t, p.Reset())
	assert.Equal(t, 1, p.State().Page)
	assert.False(t, cp.Exists("covid"))
}
