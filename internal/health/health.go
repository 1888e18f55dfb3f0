// Package health implements the threshold-based health monitor from spec
// §4.9: periodic evaluation of configured thresholds against Metrics and
// tier disk usage, producing a HealthReport and dispatching it to
// registered alert callbacks in registration order.
package health

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/metrics"
)

// Status is the overall health verdict.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Severity is the per-issue verdict.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue describes a single threshold breach.
type Issue struct {
	Severity  Severity
	Layer     string
	Message   string
	Value     float64
	Threshold float64
}

// Report is the output of one CheckHealth call.
type Report struct {
	Timestamp time.Time
	Status    Status
	Issues    []Issue
}

// Thresholds configures the checks CheckHealth performs, per spec §4.9.
type Thresholds struct {
	MinHitRate             float64
	MaxErrorRate           float64
	MaxL1LatencyP99        float64 // milliseconds
	MaxL2LatencyP99        float64 // milliseconds
	MaxL2DiskUsageFraction float64
	MinL2HitRate           float64
}

// DiskUsageFunc reports the L2 tier's current bytes and configured budget
// for the disk-usage-fraction check. A zero budget disables the check.
type DiskUsageFunc func() (usedBytes, budgetBytes int64)

// AlertCallback receives every Report produced by CheckHealth, invoked
// synchronously in registration order. A panicking callback is recovered
// and logged; it never aborts the dispatch to subsequent callbacks.
type AlertCallback func(Report)

// Monitor evaluates Thresholds against a Metrics snapshot and L2 disk
// usage, dispatching reports to registered callbacks.
type Monitor struct {
	thresholds Thresholds
	metrics    *metrics.Metrics
	diskUsage  DiskUsageFunc
	clock      clock.Clock
	logger     *zap.Logger
	callbacks  []AlertCallback
	incidents  []*Incident
}

// New wires a Monitor over an already-constructed Metrics instance.
func New(thresholds Thresholds, m *metrics.Metrics, diskUsage DiskUsageFunc, c clock.Clock, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.New()
	}
	return &Monitor{
		thresholds: thresholds,
		metrics:    m,
		diskUsage:  diskUsage,
		clock:      c,
		logger:     logger,
	}
}

// AddAlertCallback registers cb to receive every future report. Spec §9
// leaves deregistration open; this implementation doesn't offer it.
func (mon *Monitor) AddAlertCallback(cb AlertCallback) {
	mon.callbacks = append(mon.callbacks, cb)
}

// CheckHealth evaluates every configured threshold against the current
// Metrics snapshot and L2 disk usage, builds a Report, dispatches it to
// every registered callback, and returns it. A critical report also opens
// an Incident (spec §9 Supplemented Features).
func (mon *Monitor) CheckHealth() Report {
	snap := mon.metrics.Snapshot()
	now := mon.clock.WallClock()

	var issues []Issue

	if mon.thresholds.MinHitRate > 0 && snap.HitRate < mon.thresholds.MinHitRate {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Layer: "overall", Value: snap.HitRate, Threshold: mon.thresholds.MinHitRate,
			Message: "overall hit rate below configured minimum",
		})
	}
	if mon.thresholds.MaxErrorRate > 0 && snap.ErrorRate > mon.thresholds.MaxErrorRate {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Layer: "overall", Value: snap.ErrorRate, Threshold: mon.thresholds.MaxErrorRate,
			Message: "overall error rate above configured maximum",
		})
	}
	if mon.thresholds.MaxL1LatencyP99 > 0 && snap.L1.Latency.P99 > mon.thresholds.MaxL1LatencyP99 {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Layer: "l1", Value: snap.L1.Latency.P99, Threshold: mon.thresholds.MaxL1LatencyP99,
			Message: "l1 p99 latency above configured maximum",
		})
	}
	if mon.thresholds.MaxL2LatencyP99 > 0 && snap.L2.Latency.P99 > mon.thresholds.MaxL2LatencyP99 {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Layer: "l2", Value: snap.L2.Latency.P99, Threshold: mon.thresholds.MaxL2LatencyP99,
			Message: "l2 p99 latency above configured maximum",
		})
	}
	if mon.thresholds.MinL2HitRate > 0 {
		l2Total := snap.L2.Hits + snap.L2.Misses
		if l2Total > 0 {
			l2HitRate := float64(snap.L2.Hits) / float64(l2Total)
			if l2HitRate < mon.thresholds.MinL2HitRate {
				issues = append(issues, Issue{
					Severity: SeverityWarning, Layer: "l2", Value: l2HitRate, Threshold: mon.thresholds.MinL2HitRate,
					Message: "l2 hit rate below configured minimum",
				})
			}
		}
	}
	// Disk usage is escalated straight to critical on breach: unlike the
	// rate/latency checks above, running out of disk fails every L2 write
	// outright rather than merely degrading performance.
	if mon.thresholds.MaxL2DiskUsageFraction > 0 && mon.diskUsage != nil {
		used, budget := mon.diskUsage()
		if budget > 0 {
			fraction := float64(used) / float64(budget)
			if fraction > mon.thresholds.MaxL2DiskUsageFraction {
				issues = append(issues, Issue{
					Severity: SeverityCritical, Layer: "l2", Value: fraction, Threshold: mon.thresholds.MaxL2DiskUsageFraction,
					Message: "l2 disk usage above configured maximum",
				})
			}
		}
	}

	status := StatusHealthy
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			status = StatusCritical
			break
		}
		status = StatusWarning
	}

	report := Report{Timestamp: now, Status: status, Issues: issues}

	if status == StatusCritical {
		mon.incidents = append(mon.incidents, NewIncident(report, now))
	}

	mon.dispatch(report)
	return report
}

// Incidents returns every critical-report incident opened so far.
func (mon *Monitor) Incidents() []*Incident {
	return mon.incidents
}

func (mon *Monitor) dispatch(report Report) {
	for _, cb := range mon.callbacks {
		mon.invokeSafely(cb, report)
	}
}

func (mon *Monitor) invokeSafely(cb AlertCallback, report Report) {
	defer func() {
		if r := recover(); r != nil {
			mon.logger.Error("alert callback panicked", zap.Any("panic", r))
		}
	}()
	cb(report)
}

// Incident records a critical health report for later acknowledgement,
// adapted from the teacher's uuid-identified escalation incidents down to
// the fields a health report actually needs (no escalation-policy steps,
// since Health has no notion of on-call targets).
type Incident struct {
	ID        string
	Report    Report
	CreatedAt time.Time
	Resolved  bool
}

// NewIncident opens an incident for a critical report.
func NewIncident(report Report, now time.Time) *Incident {
	return &Incident{ID: uuid.New().String(), Report: report, CreatedAt: now}
}

// Resolve marks the incident resolved.
func (inc *Incident) Resolve() {
	inc.Resolved = true
}
