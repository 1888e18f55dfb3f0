package pagination

import (
	"github.com/JonasHeinickeBio/europepmc-cache/internal/clock"
)

// CursorPaginator composes State with Checkpoint to give a long-running,
// paged crawl resume-after-crash semantics, per spec §4.7.
type CursorPaginator struct {
	checkpoint *Checkpoint
	clock      clock.Clock
	state      State
}

// NewCursorPaginator constructs a paginator for query/pageSize. When
// resume is true it attempts to load a prior checkpoint; absent, or
// present-but-completed without an explicit reset request, it starts a
// fresh run at page 1.
func NewCursorPaginator(checkpoint *Checkpoint, c clock.Clock, query string, pageSize int, resume bool, reset bool) (*CursorPaginator, error) {
	p := &CursorPaginator{checkpoint: checkpoint, clock: c}

	if resume && !reset {
		prior, ok, err := checkpoint.Load(query)
		if err != nil {
			return nil, err
		}
		if ok && !prior.Completed {
			p.state = prior
			return p, nil
		}
	}

	p.state = NewState(query, pageSize, c.WallClock())
	if reset {
		_ = checkpoint.Delete(query)
	}
	return p, nil
}

// State returns the current immutable snapshot.
func (p *CursorPaginator) State() State {
	return p.state
}

// UpdateProgress advances the paginator by one page and persists the new
// state, per spec §4.7's "after every update_progress, the new state is
// persisted" contract.
func (p *CursorPaginator) UpdateProgress(cursor *string, resultCount int, totalCount *int) error {
	p.state = p.state.Update(p.clock.WallClock(), cursor, resultCount, totalCount)
	return p.checkpoint.Save(p.state)
}

// MarkCompleted flags the run as finished and persists the final state.
// The caller decides completion (empty page, upstream exhaustion signal).
func (p *CursorPaginator) MarkCompleted() error {
	p.state = p.state.WithCompleted(true)
	return p.checkpoint.Save(p.state)
}

// IsComplete reports true once Completed is set, or once TotalCount is
// known and FetchedCount has reached it.
func (p *CursorPaginator) IsComplete() bool {
	if p.state.Completed {
		return true
	}
	return p.state.TotalCount != nil && p.state.FetchedCount >= *p.state.TotalCount
}

// Reset discards any persisted checkpoint and starts a fresh run at page 1.
func (p *CursorPaginator) Reset() error {
	if err := p.checkpoint.Delete(p.state.Query); err != nil {
		return err
	}
	p.state = NewState(p.state.Query, p.state.PageSize, p.clock.WallClock())
	return nil
}
