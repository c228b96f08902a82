package milestone

// Record tracks one milestone kind on one request.
type Record struct {
	Planned Date
	// Actual is set exactly once, when the milestone is completed, and is
	// never cleared.
	Actual        Date
	Postponements int
	// History holds superseded planned dates, oldest first. Its length always
	// equals Postponements.
	History []Date
	// NotApplicable marks kinds that ingestion closed without a plan.
	NotApplicable bool
}

func (r Record) Completed() bool { return !r.Actual.IsZero() }

// Pending reports whether the record is planned but not yet completed.
func (r Record) Pending() bool { return !r.Planned.IsZero() && r.Actual.IsZero() }

// Request is a procurement case. Records are indexed by catalog position.
type Request struct {
	ID          int64
	Name        string
	Service     string
	District    string
	Unit        string
	Responsible string
	Stage       string
	Records     []Record
}

// CurrentPosition derives the current milestone: the lowest catalog position
// that is planned and not completed. It returns -1 when there is none.
func (r *Request) CurrentPosition() int {
	return r.nextPending(-1)
}

// nextPending returns the first pending position strictly after from.
func (r *Request) nextPending(from int) int {
	for pos := from + 1; pos < len(r.Records); pos++ {
		if r.Records[pos].Pending() {
			return pos
		}
	}
	return -1
}

// Active reports whether the request has a current milestone.
func (r *Request) Active() bool { return r.CurrentPosition() >= 0 }

// CurrentPlanned returns the planned date of the current milestone.
func (r *Request) CurrentPlanned() (Date, bool) {
	pos := r.CurrentPosition()
	if pos < 0 {
		return Date{}, false
	}
	return r.Records[pos].Planned, true
}

// Completed reports whether every planned milestone has been closed.
func (r *Request) Completed() bool {
	return len(r.Records) > 0 && !r.Active()
}

// Normalize pads or trims Records to the catalog length.
func (r *Request) Normalize(cat *Catalog) {
	switch {
	case len(r.Records) < cat.Len():
		r.Records = append(r.Records, make([]Record, cat.Len()-len(r.Records))...)
	case len(r.Records) > cat.Len():
		r.Records = r.Records[:cat.Len()]
	}
}
