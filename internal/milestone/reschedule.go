package milestone

import "fmt"

// Adjustment records a later milestone moved by a cascade.
type Adjustment struct {
	Kind     Kind
	Previous Date
	Planned  Date
}

// Replan is the outcome of ReplanCurrentMilestone.
type Replan struct {
	RequestID int64
	Kind      Kind
	// Previous is the superseded planned date; zero if the milestone had none.
	Previous    Date
	Planned     Date
	Adjustments []Adjustment
}

// planReplan moves the current milestone of r to planned and pushes any later
// milestone that would land on or before its predecessor. It does not modify r.
func planReplan(cat *Catalog, r *Request, planned Date) (Replan, Update, error) {
	if planned.IsZero() {
		return Replan{}, Update{}, fmt.Errorf("%w: new planned date is empty", ErrInvalidDate)
	}
	pos := r.CurrentPosition()
	if pos < 0 {
		return Replan{}, Update{}, fmt.Errorf("request %d: %w", r.ID, ErrNoActiveMilestone)
	}

	current := r.Records[pos]
	head := MilestoneUpdate{Position: pos, Planned: planned.Ptr()}
	if !current.Planned.IsZero() {
		head.HistoryAppend = current.Planned.Ptr()
		head.IncrementPostponement = true
	}

	res := Replan{
		RequestID: r.ID,
		Kind:      cat.At(pos),
		Previous:  current.Planned,
		Planned:   planned,
	}
	u := Update{RequestID: r.ID, Milestones: []MilestoneUpdate{head}}

	// The reference only advances when a milestone is moved; a later date
	// that is already in order leaves it where it was.
	ref := planned
	for p := pos + 1; p < len(r.Records); p++ {
		existing := r.Records[p].Planned
		if existing.IsZero() || existing.After(ref) {
			continue
		}
		ref = ref.AddDays(1)
		u.Milestones = append(u.Milestones, MilestoneUpdate{Position: p, Planned: ref.Ptr()})
		res.Adjustments = append(res.Adjustments, Adjustment{
			Kind:     cat.At(p),
			Previous: existing,
			Planned:  ref,
		})
	}
	return res, u, nil
}
