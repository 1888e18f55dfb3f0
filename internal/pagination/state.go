// Package pagination implements the cursor-based pagination engine from
// spec §4.7: an immutable progress snapshot, a durable checkpoint backed
// by the Coordinator, and a CursorPaginator composing the two to give
// long-running crawls resume-after-crash semantics.
package pagination

import (
	"time"
)

// State is an immutable snapshot of pagination progress. Update never
// mutates its receiver; it returns a new State reflecting the change.
type State struct {
	Query        string    `json:"query"`
	Cursor       *string   `json:"cursor"`
	Page         int       `json:"page"`
	PageSize     int       `json:"page_size"`
	FetchedCount int       `json:"fetched_count"`
	TotalCount   *int      `json:"total_count"`
	LastDocID    *string   `json:"last_doc_id"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Completed    bool      `json:"completed"`
}

// NewState starts a fresh, unresumed pagination run.
func NewState(query string, pageSize int, now time.Time) State {
	return State{
		Query:     query,
		Page:      1,
		PageSize:  pageSize,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Update produces a new State advancing by one page of results, per spec
// §4.7: cursor/total_count are only overwritten when the caller supplies
// them (nil leaves the prior value in place), fetched_count accumulates
// resultCount, and page always advances by one.
func (s State) Update(now time.Time, cursor *string, resultCount int, totalCount *int) State {
	next := s
	next.Page = s.Page + 1
	next.FetchedCount = s.FetchedCount + resultCount
	next.UpdatedAt = now
	if cursor != nil {
		next.Cursor = cursor
	}
	if totalCount != nil {
		next.TotalCount = totalCount
	}
	return next
}

// WithCompleted returns a copy of the state with Completed set, leaving
// every other field untouched. The caller decides completion (empty page,
// upstream exhaustion signal); the engine never infers it beyond the
// total_count/fetched_count comparison IsComplete already provides.
func (s State) WithCompleted(completed bool) State {
	next := s
	next.Completed = completed
	return next
}

// ProgressPercent returns 0 when TotalCount is unknown, otherwise
// min(100, fetched_count/total_count*100).
func (s State) ProgressPercent() float64 {
	if s.TotalCount == nil || *s.TotalCount <= 0 {
		return 0
	}
	pct := float64(s.FetchedCount) / float64(*s.TotalCount) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// EstimatedRemainingTime projects remaining duration from the observed
// fetch rate (fetched_count / elapsed). Returns false when fetched_count
// is zero or total_count is unknown, matching spec §4.7.
func (s State) EstimatedRemainingTime(now time.Time) (time.Duration, bool) {
	if s.FetchedCount == 0 || s.TotalCount == nil {
		return 0, false
	}
	elapsed := now.Sub(s.StartedAt)
	if elapsed <= 0 {
		return 0, false
	}
	remaining := *s.TotalCount - s.FetchedCount
	if remaining <= 0 {
		return 0, true
	}
	rate := float64(s.FetchedCount) / elapsed.Seconds()
	if rate <= 0 {
		return 0, false
	}
	seconds := float64(remaining) / rate
	return time.Duration(seconds * float64(time.Second)), true
}
