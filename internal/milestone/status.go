package milestone

// Status classifies a dated, active milestone against today.
type Status string

const (
	StatusOnTime   Status = "on_time"
	StatusUpcoming Status = "upcoming"
	StatusDelayed  Status = "delayed"
)

// Classify maps a planned date to a status. A milestone due today is
// Upcoming for any lead; a negative lead counts as zero.
func Classify(planned, today Date, leadDays int) Status {
	if leadDays < 0 {
		leadDays = 0
	}
	remaining := today.DaysUntil(planned)
	switch {
	case remaining < 0:
		return StatusDelayed
	case remaining <= leadDays:
		return StatusUpcoming
	default:
		return StatusOnTime
	}
}

// Balance aggregates classifications over a set of requests.
type Balance struct {
	Total    int
	OnTime   int
	Upcoming int
	Delayed  int
}

func (b *Balance) Add(s Status) {
	b.Total++
	switch s {
	case StatusOnTime:
		b.OnTime++
	case StatusUpcoming:
		b.Upcoming++
	case StatusDelayed:
		b.Delayed++
	}
}

// Tally classifies every active request with a dated current milestone.
// Finished and undated requests are left out.
func Tally(reqs []*Request, today Date, leadDays int) Balance {
	var b Balance
	for _, r := range reqs {
		planned, ok := r.CurrentPlanned()
		if !ok || planned.IsZero() {
			continue
		}
		b.Add(Classify(planned, today, leadDays))
	}
	return b
}

// Assessment is the display view of a request's current milestone.
type Assessment struct {
	Kind          Kind
	Planned       Date
	Status        Status
	DaysRemaining int
}

// Assess classifies the current milestone of r. It returns false for
// requests without a current milestone.
func Assess(cat *Catalog, r *Request, today Date, leadDays int) (Assessment, bool) {
	pos := r.CurrentPosition()
	if pos < 0 {
		return Assessment{}, false
	}
	planned := r.Records[pos].Planned
	return Assessment{
		Kind:          cat.At(pos),
		Planned:       planned,
		Status:        Classify(planned, today, leadDays),
		DaysRemaining: today.DaysUntil(planned),
	}, true
}
