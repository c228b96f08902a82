package notify

import (
	"context"
	"sort"
	"strings"

	"github.com/rahul/hitobot/internal/milestone"
)

// Unassigned groups due items whose request has no responsible party.
const Unassigned = "Sin Responsable"

// DueItem is one request whose current milestone falls on the target date.
type DueItem struct {
	RequestID   int64
	RequestName string
	Unit        string
	Kind        milestone.Kind
	Planned     milestone.Date
}

// Group collects due items under one responsible party.
type Group struct {
	Responsible string
	Items       []DueItem
}

// Digest is the result of one sweep, handed to delivery.
type Digest struct {
	Today    milestone.Date
	Target   milestone.Date
	LeadDays int
	Groups   []Group
}

// Len counts due items across all groups.
func (d Digest) Len() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Items)
	}
	return n
}

func (d Digest) Empty() bool { return len(d.Groups) == 0 }

// Source lists active requests. milestone.Store satisfies it.
type Source interface {
	ListActiveRequests(ctx context.Context, f milestone.Filter) ([]*milestone.Request, error)
}

// Sweeper matches current milestones against today plus the lead window. It
// never writes.
type Sweeper struct {
	catalog *milestone.Catalog
	source  Source
}

func NewSweeper(cat *milestone.Catalog, src Source) *Sweeper {
	return &Sweeper{catalog: cat, source: src}
}

// Sweep selects every active request whose current milestone is planned
// exactly for today+lead, grouped by responsible party. Groups are ordered by
// party name and items by request id. A negative lead is treated as zero.
func (s *Sweeper) Sweep(ctx context.Context, today milestone.Date, lead int) (Digest, error) {
	if today.IsZero() {
		return Digest{}, milestone.ErrInvalidDate
	}
	if lead < 0 {
		lead = 0
	}
	target := today.AddDays(lead)
	d := Digest{Today: today, Target: target, LeadDays: lead}

	reqs, err := s.source.ListActiveRequests(ctx, milestone.Filter{})
	if err != nil {
		return Digest{}, err
	}

	byParty := make(map[string][]DueItem)
	for _, r := range reqs {
		r.Normalize(s.catalog)
		pos := r.CurrentPosition()
		if pos < 0 {
			continue
		}
		planned := r.Records[pos].Planned
		if !planned.Equal(target) {
			continue
		}
		party := strings.TrimSpace(r.Responsible)
		if party == "" {
			party = Unassigned
		}
		byParty[party] = append(byParty[party], DueItem{
			RequestID:   r.ID,
			RequestName: r.Name,
			Unit:        r.Unit,
			Kind:        s.catalog.At(pos),
			Planned:     planned,
		})
	}

	for party, items := range byParty {
		sort.Slice(items, func(i, j int) bool { return items[i].RequestID < items[j].RequestID })
		d.Groups = append(d.Groups, Group{Responsible: party, Items: items})
	}
	sort.Slice(d.Groups, func(i, j int) bool { return d.Groups[i].Responsible < d.Groups[j].Responsible })
	return d, nil
}
