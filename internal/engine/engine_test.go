package engine_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cacheconfig"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/coordinator"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/engine"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/keynorm"
)

func newTestEngine(t *testing.T) (*engine.Engine, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	cfg := cacheconfig.Default()
	cfg.L1MaxBytes = 1 << 20
	cfg.L2MaxBytes = 1 << 20
	cfg.ArtifactsDir = filepath.Join(dir, "artifacts")
	cfg.ArtifactSizeLimitBytes = 1 << 20

	e, err := engine.Open(cfg, dir, engine.WithClock(fc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, fc
}

func TestEngine_OpenWiresAllTiers(t *testing.T) {
	e, _ := newTestEngine(t)

	key, err := e.NormalizeKey(cachetypes.DataTypeSearch, "search", keynorm.Params{"q": "cancer"})
	require.NoError(t, err)

	require.NoError(t, e.Coordinator().Set(key, []byte("result"), 0, "", cachetypes.DataTypeSearch, coordinator.TargetAuto))
	val, ok := e.Coordinator().Get(key, coordinator.TargetAuto)
	require.True(t, ok)
	assert.Equal(t, []byte("result"), val)
}

func TestEngine_GetOrComputeFetchesOnceThenCaches(t *testing.T) {
	e, _ := newTestEngine(t)

	calls := 0
	fetch := func() ([]byte, error) {
		calls++
		return []byte("fetched"), nil
	}

	v1, err := e.GetOrCompute("api:search:1", cachetypes.DataTypeSearch, fetch)
	require.NoError(t, err)
	v2, err := e.GetOrCompute("api:search:1", cachetypes.DataTypeSearch, fetch)
	require.NoError(t, err)

	assert.Equal(t, []byte("fetched"), v1)
	assert.Equal(t, []byte("fetched"), v2)
	assert.Equal(t, 1, calls)
}

func TestEngine_ArtifactStoreRoundTrips(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.Artifacts().Store("doc-1", []byte("content"), nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Deduped)

	data, meta, ok, err := e.Artifacts().Retrieve("doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("content"), data)
	assert.Equal(t, res.Metadata.Hash, meta.Hash)
}

func TestEngine_PaginatorResumesAcrossRestarts(t *testing.T) {
	e, _ := newTestEngine(t)

	p, err := e.NewPaginator("q=cancer", 25, true, false)
	require.NoError(t, err)
	cursor := "page-2"
	require.NoError(t, p.UpdateProgress(&cursor, 25, nil))

	resumed, err := e.NewPaginator("q=cancer", 25, true, false)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.State().Page)
	assert.Equal(t, 25, resumed.State().FetchedCount)
}

func TestEngine_ErrorCacheSuppressesRepeatedFailures(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Errors().CacheError("api:search", 503, "unavailable", nil))
	assert.True(t, e.Errors().IsErrorCached("api:search", 503))
}

func TestEngine_CheckHealthReflectsMetrics(t *testing.T) {
	e, _ := newTestEngine(t)

	report := e.CheckHealth()
	assert.NotZero(t, report.Timestamp)
}

func TestEngine_OpenRejectsInvalidConfig(t *testing.T) {
	cfg := cacheconfig.Default()
	cfg.L1MaxBytes = -1

	_, err := engine.Open(cfg, t.TempDir())
	require.Error(t, err)

	var cacheErr *cachetypes.CacheError
	require.True(t, errors.As(err, &cacheErr))
	assert.Equal(t, cachetypes.KindConfig, cacheErr.Kind)
}

func TestEngine_CloseReleasesLocksForReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := cacheconfig.Default()
	cfg.ArtifactsDir = filepath.Join(dir, "artifacts")

	e1, err := engine.Open(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, e1.Close())

	e2, err := engine.Open(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, e2.Close())
}
