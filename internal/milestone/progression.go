package milestone

import "fmt"

// Completion is the outcome of CompleteCurrentMilestone.
type Completion struct {
	RequestID int64
	Completed Kind
	// Next is nil when the request has no further planned milestone.
	Next *Kind
	// Handoff is the new responsible party, if completing the kind moved
	// ownership of the request.
	Handoff string
}

// Finished reports whether the completion closed the request's last
// planned milestone.
func (c Completion) Finished() bool { return c.Next == nil }

// planCompletion closes the current milestone of r on today and works out
// the next one. It does not modify r.
func planCompletion(cat *Catalog, r *Request, today Date) (Completion, Update, error) {
	if today.IsZero() {
		return Completion{}, Update{}, fmt.Errorf("%w: completion date is empty", ErrInvalidDate)
	}
	pos := r.CurrentPosition()
	if pos < 0 {
		return Completion{}, Update{}, fmt.Errorf("request %d: %w", r.ID, ErrNoActiveMilestone)
	}

	kind := cat.At(pos)
	u := Update{
		RequestID:  r.ID,
		Milestones: []MilestoneUpdate{{Position: pos, Actual: today.Ptr()}},
	}
	c := Completion{RequestID: r.ID, Completed: kind}

	// Kinds without a plan are not applicable to this request and are
	// skipped, so the next one is not necessarily pos+1.
	if next := r.nextPending(pos); next >= 0 {
		k := cat.At(next)
		c.Next = &k
	}

	if kind.HandoffTo != "" && kind.HandoffTo != r.Responsible {
		handoff := kind.HandoffTo
		u.Responsible = &handoff
		c.Handoff = handoff
	}
	return c, u, nil
}
