package cachetypes

import "time"

// DataType is the first segment of a versioned cache key (spec §3).
type DataType string

const (
	DataTypeSearch     DataType = "search"
	DataTypeRecord     DataType = "record"
	DataTypeFulltext   DataType = "fulltext"
	DataTypeError      DataType = "error"
	DataTypeCheckpoint DataType = "checkpoint"
	DataTypeIndex      DataType = "index"
)

// Tier identifies which cache layer an operation targets.
type Tier string

const (
	TierAuto Tier = "auto"
	TierL1   Tier = "l1"
	TierL2   Tier = "l2"
)

// Entry is what L1 and L2 store for a single key (spec §3 "Cache entry").
type Entry struct {
	Key        string
	Value      []byte
	Size       int64
	CreatedAt  time.Time // wall clock, metadata only
	ExpiresAt  time.Time // monotonic-derived; zero value means no expiry
	Tag        string
	DataType   DataType
	LastAccess time.Time
}

// Expired reports whether the entry is no longer live at the given instant.
// A zero ExpiresAt means the entry never expires.
func (e *Entry) Expired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(e.ExpiresAt)
}

// TierStats mirrors spec §4.3's atomic counters, common to L1 and L2.
type TierStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
	Errors    int64
}

// HitRate returns hits / (hits+misses), or 0 when there have been no reads.
func (s TierStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
