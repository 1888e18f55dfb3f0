package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter mirrors spec §4.9's metrics surface through
// prometheus gauges, following the promauto registration
// pattern from the teacher's internal/gateway/metrics/collector.go. Unlike
// that collector (which increments counters inline per request), this
// exporter is pulled periodically: Export reads a Metrics snapshot and
// sets gauge values from it, since Metrics itself — not Prometheus — is
// the source of truth the Coordinator and HealthMonitor consult.
type PrometheusExporter struct {
	tierHits      *prometheus.GaugeVec
	tierMisses    *prometheus.GaugeVec
	tierSets      *prometheus.GaugeVec
	tierDeletes   *prometheus.GaugeVec
	tierErrors    *prometheus.GaugeVec
	tierEvictions *prometheus.GaugeVec
	tierLatencyP50 *prometheus.GaugeVec
	tierLatencyP95 *prometheus.GaugeVec
	tierLatencyP99 *prometheus.GaugeVec

	hitRate              prometheus.Gauge
	errorRate            prometheus.Gauge
	totalDownloadedBytes prometheus.Gauge
	uptimeSeconds        prometheus.Gauge
}

// NewPrometheusExporter registers the cache engine's gauges with the
// default Prometheus registry. Call Export after each HealthMonitor tick
// (or on whatever cadence the embedding application schedules) to refresh
// the exported values.
func NewPrometheusExporter() *PrometheusExporter {
	tierLabel := []string{"tier"}
	return &PrometheusExporter{
		tierHits: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_hits_total",
			Help: "Cumulative hits observed per cache tier.",
		}, tierLabel),
		tierMisses: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_misses_total",
			Help: "Cumulative misses observed per cache tier.",
		}, tierLabel),
		tierSets: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_sets_total",
			Help: "Cumulative writes observed per cache tier.",
		}, tierLabel),
		tierDeletes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_deletes_total",
			Help: "Cumulative deletes observed per cache tier.",
		}, tierLabel),
		tierErrors: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_errors_total",
			Help: "Cumulative tier-local errors observed per cache tier.",
		}, tierLabel),
		tierEvictions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_evictions_total",
			Help: "Cumulative evictions observed per cache tier.",
		}, tierLabel),
		tierLatencyP50: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_latency_p50_ms",
			Help: "P50 hit latency in milliseconds per cache tier.",
		}, tierLabel),
		tierLatencyP95: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_latency_p95_ms",
			Help: "P95 hit latency in milliseconds per cache tier.",
		}, tierLabel),
		tierLatencyP99: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cacheengine_tier_latency_p99_ms",
			Help: "P99 hit latency in milliseconds per cache tier.",
		}, tierLabel),
		hitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cacheengine_hit_rate",
			Help: "Aggregate hit rate across tiers.",
		}),
		errorRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cacheengine_error_rate",
			Help: "Aggregate error rate across tiers.",
		}),
		totalDownloadedBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cacheengine_downloaded_bytes_total",
			Help: "Total bytes served through the cache.",
		}),
		uptimeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cacheengine_uptime_seconds",
			Help: "Seconds since the engine was constructed.",
		}),
	}
}

// Export pushes a Metrics snapshot into the registered gauges.
func (e *PrometheusExporter) Export(s Snapshot) {
	e.exportTier("l1", s.L1)
	e.exportTier("l2", s.L2)
	e.hitRate.Set(s.HitRate)
	e.errorRate.Set(s.ErrorRate)
	e.totalDownloadedBytes.Set(float64(s.TotalDownloadedBytes))
	e.uptimeSeconds.Set(s.Uptime.Seconds())
}

func (e *PrometheusExporter) exportTier(label string, t TierSnapshot) {
	e.tierHits.WithLabelValues(label).Set(float64(t.Hits))
	e.tierMisses.WithLabelValues(label).Set(float64(t.Misses))
	e.tierSets.WithLabelValues(label).Set(float64(t.Sets))
	e.tierDeletes.WithLabelValues(label).Set(float64(t.Deletes))
	e.tierErrors.WithLabelValues(label).Set(float64(t.Errors))
	e.tierEvictions.WithLabelValues(label).Set(float64(t.Evictions))
	e.tierLatencyP50.WithLabelValues(label).Set(t.Latency.P50)
	e.tierLatencyP95.WithLabelValues(label).Set(t.Latency.P95)
	e.tierLatencyP99.WithLabelValues(label).Set(t.Latency.P99)
}
