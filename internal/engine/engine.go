// Package engine is the public façade (spec §2's "Configuration
// assembly, lifecycle, integration helpers"): it owns no process-wide
// mutable state, assembles every tier from one Config, and exposes a
// single handle an embedding application opens and closes. Modeled on
// the teacher's own composition-root discipline of wiring every
// subsystem behind one top-level type with an explicit Config rather
// than leaving callers to construct each dependency by hand.
package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/artifact"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/cacheconfig"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/coordinator"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/errorcache"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/health"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/keynorm"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l1"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/l2"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/metrics"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/pagination"
)

// Engine is the single entry point an embedding application holds. It
// owns every tier's lifetime; Close releases L2's and the artifact
// store's file locks.
type Engine struct {
	cfg    cacheconfig.Config
	clock  clock.Clock
	logger *zap.Logger

	l1Cache    *l1.Cache
	l2Store    *l2.Store // nil when L2 disabled
	metrics    *metrics.Metrics
	coord      *coordinator.Coordinator
	artifacts  *artifact.Store
	checkpoint *pagination.Checkpoint
	errors     *errorcache.Cache
	health     *health.Monitor
	prometheus *metrics.PrometheusExporter
}

// Option customizes construction beyond what Config captures — mainly
// test seams (an injected clock, a disabled Prometheus exporter).
type Option func(*options)

type options struct {
	clock            clock.Clock
	logger           *zap.Logger
	registerExporter bool
}

// WithClock injects a clock, overriding the real wall clock. Tests use
// this to drive TTL and jitter deterministically.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPrometheusExporter registers a PrometheusExporter with the default
// registry. Off by default so running multiple Engines in one process
// (as tests do) doesn't panic on duplicate registration.
func WithPrometheusExporter() Option {
	return func(o *options) { o.registerExporter = true }
}

// Open assembles every tier from cfg and opens L2 and the artifact
// store. cacheDir, when non-empty, overrides cfg.L2Dir with
// cacheDir/l2 (spec §6's on-disk layout: cache_dir/l2, cache_dir/lockfile).
func Open(cfg cacheconfig.Config, cacheDir string, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	c := o.clock
	if c == nil {
		c = clock.New()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l1Cache := l1.New(cfg.L1MaxBytes, c, logger)

	var l2Store *l2.Store
	if cfg.L2Enabled {
		l2Dir := cfg.L2Dir
		if cacheDir != "" {
			l2Dir = filepath.Join(cacheDir, "l2")
		}
		store, err := l2.Open(l2Dir, cfg.L2MaxBytes, c, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: opening l2 store: %w", err)
		}
		l2Store = store
	}

	m := metrics.New(cfg.LatencySampleWindow, logger)
	coord := coordinator.New(l1Cache, l2Store, m, c, logger, cfg.ToCoordinatorConfig())

	artifacts, err := artifact.Open(cfg.ArtifactsDir, cfg.ArtifactSizeLimitBytes, cfg.ArtifactGCTargetUtilization, c, logger)
	if err != nil {
		if l2Store != nil {
			_ = l2Store.Close()
		}
		return nil, fmt.Errorf("engine: opening artifact store: %w", err)
	}

	checkpoint := pagination.NewCheckpoint(coord, cfg.NamespaceVersion)
	errCache := errorcache.New(coord, c, cfg.NamespaceVersion, cfg.ToErrorPolicies(), cfg.EnableNegativeCaching)

	diskUsage := func() (int64, int64) {
		if l2Store == nil {
			return 0, 0
		}
		return l2Store.SizeBytes(), cfg.L2MaxBytes
	}
	monitor := health.New(cfg.ToHealthThresholds(), m, diskUsage, c, logger)

	var exporter *metrics.PrometheusExporter
	if o.registerExporter {
		exporter = metrics.NewPrometheusExporter()
	}

	return &Engine{
		cfg:        cfg,
		clock:      c,
		logger:     logger,
		l1Cache:    l1Cache,
		l2Store:    l2Store,
		metrics:    m,
		coord:      coord,
		artifacts:  artifacts,
		checkpoint: checkpoint,
		errors:     errCache,
		health:     monitor,
		prometheus: exporter,
	}, nil
}

// Close releases L2's and the artifact store's process locks. Safe to
// call once; the embedding application owns the Engine's lifetime and
// should defer this immediately after Open succeeds.
func (e *Engine) Close() error {
	var firstErr error
	if e.l2Store != nil {
		if err := e.l2Store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.artifacts.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Coordinator exposes the underlying cache coordinator for direct
// get/set/delete/invalidate/warm access (spec §4.5).
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }

// Artifacts exposes the content-addressed blob store (spec §4.6).
func (e *Engine) Artifacts() *artifact.Store { return e.artifacts }

// Checkpoints exposes the pagination checkpoint store (spec §4.7),
// letting a caller build a CursorPaginator directly.
func (e *Engine) Checkpoints() *pagination.Checkpoint { return e.checkpoint }

// NewPaginator starts or resumes a CursorPaginator for query.
func (e *Engine) NewPaginator(query string, pageSize int, resume, reset bool) (*pagination.CursorPaginator, error) {
	return pagination.NewCursorPaginator(e.checkpoint, e.clock, query, pageSize, resume, reset)
}

// Errors exposes the negative/transient-error cache (spec §4.8).
func (e *Engine) Errors() *errorcache.Cache { return e.errors }

// Health exposes the threshold monitor (spec §4.9).
func (e *Engine) Health() *health.Monitor { return e.health }

// Stats returns the aggregate Metrics snapshot.
func (e *Engine) Stats() metrics.Snapshot { return e.coord.Stats() }

// CheckHealth runs one health evaluation and, when a Prometheus exporter
// was requested via WithPrometheusExporter, refreshes its gauges from
// the same snapshot.
func (e *Engine) CheckHealth() health.Report {
	report := e.health.CheckHealth()
	if e.prometheus != nil {
		e.prometheus.Export(e.coord.Stats())
	}
	return report
}

// NormalizeKey composes a versioned cache key for dataType/prefix from
// params, using the engine's configured namespace version (spec §4.2).
func (e *Engine) NormalizeKey(dataType cachetypes.DataType, prefix string, params keynorm.Params) (string, error) {
	return keynorm.NormalizeQueryKey(dataType, prefix, e.cfg.NamespaceVersion, params)
}

// GetOrCompute reads key through the Coordinator, calling fetch and
// writing the result back (with dataType's configured TTL) on a miss.
// This is the cache-aside loop from spec §2's data-flow diagram; the
// engine never performs the upstream fetch itself (an explicit
// Non-goal), only the plumbing around whatever fetch the caller supplies.
func (e *Engine) GetOrCompute(key string, dataType cachetypes.DataType, fetch func() ([]byte, error)) ([]byte, error) {
	return e.coord.GetOrCompute(key, dataType, fetch)
}

// Uptime reports how long this Engine instance has been open.
func (e *Engine) Uptime() time.Duration {
	return e.metrics.Uptime()
}
