package bot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/hitobot/internal/gateway"
	"github.com/rahul/hitobot/internal/milestone"
)

const separator = "----------------------------------------"

var esc = gateway.EscapeHTML

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func statusMark(s milestone.Status) string {
	switch s {
	case milestone.StatusDelayed:
		return "🔴"
	case milestone.StatusUpcoming:
		return "🟡"
	}
	return "🟢"
}

// dayLine renders "Lunes, 06/01/2025".
func dayLine(d milestone.Date) string {
	return WeekdayName(d) + ", " + d.Display()
}

func filterLine(f milestone.Filter) string {
	var parts []string
	add := func(label, v string) {
		if v != "" && v != milestone.AnyValue {
			parts = append(parts, fmt.Sprintf("<b>%s:</b> %s", label, esc(v)))
		}
	}
	add("Distrito", f.District)
	add("Gerencia", f.Unit)
	add("Servicio", f.Service)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " | ") + "\n\n"
}

// item is an active request paired with its current milestone.
type item struct {
	req *milestone.Request
	milestone.Assessment
}

func assessAll(cat *milestone.Catalog, reqs []*milestone.Request, today milestone.Date, lead int) []item {
	out := make([]item, 0, len(reqs))
	for _, r := range reqs {
		if a, ok := milestone.Assess(cat, r, today, lead); ok {
			out = append(out, item{req: r, Assessment: a})
		}
	}
	return out
}

// groupBy buckets items by key, keeping keys sorted and each bucket ordered
// by planned date then request id.
func groupBy(items []item, key func(item) string) ([]string, map[string][]item) {
	groups := make(map[string][]item)
	for _, it := range items {
		k := key(it)
		groups[k] = append(groups[k], it)
	}
	keys := make([]string, 0, len(groups))
	for k, g := range groups {
		keys = append(keys, k)
		sort.SliceStable(g, func(i, j int) bool {
			if !g[i].Planned.Equal(g[j].Planned) {
				return g[i].Planned.Before(g[j].Planned)
			}
			return g[i].req.ID < g[j].req.ID
		})
	}
	sort.Strings(keys)
	return keys, groups
}

func writeSolicitud(b *strings.Builder, mark string, r *milestone.Request) {
	fmt.Fprintf(b, "%s <b>Solicitud (ID %d):</b> %s\n", mark, r.ID, esc(r.Name))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
