package milestone

import "context"

// Filter narrows ListActiveRequests. Empty fields and "TODOS" match anything.
type Filter struct {
	District string
	Unit     string
	Service  string
	// OwnedByUnit keeps only requests whose responsible party is the
	// requesting unit itself.
	OwnedByUnit bool
}

// AnyValue is the filter wildcard accepted by chat commands.
const AnyValue = "TODOS"

func matchField(want, got string) bool {
	return want == "" || want == AnyValue || want == got
}

// Match applies the filter to an in-memory request.
func (f Filter) Match(r *Request) bool {
	if !matchField(f.District, r.District) || !matchField(f.Unit, r.Unit) || !matchField(f.Service, r.Service) {
		return false
	}
	if f.OwnedByUnit && r.Unit != r.Responsible {
		return false
	}
	return true
}

// MilestoneUpdate is one field-level change to a milestone record.
type MilestoneUpdate struct {
	Position              int
	Planned               *Date
	Actual                *Date
	HistoryAppend         *Date
	IncrementPostponement bool
}

// Update groups every change of one engine transaction. Stores apply it
// atomically.
type Update struct {
	RequestID   int64
	Milestones  []MilestoneUpdate
	Responsible *string
}

// Store is the persistence contract the engine works against.
type Store interface {
	// GetRequest returns a consistent snapshot of a request and all its
	// records, or ErrRequestNotFound.
	GetRequest(ctx context.Context, id int64) (*Request, error)
	// ListActiveRequests returns requests that currently have a milestone
	// planned and not completed.
	ListActiveRequests(ctx context.Context, f Filter) ([]*Request, error)
	SaveUpdate(ctx context.Context, u Update) error
}
