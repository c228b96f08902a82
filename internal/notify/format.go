package notify

import (
	"fmt"
	"strings"

	"github.com/rahul/hitobot/internal/gateway"
)

// FormatGroup renders one responsible party's due items as an HTML alert.
func FormatGroup(d Digest, g Group) string {
	var b strings.Builder
	b.WriteString("🔔 <b>Alerta de Vencimiento</b> 🔔\n\n")
	fmt.Fprintf(&b, "👤 <b>Responsable:</b> %s\n", gateway.EscapeHTML(g.Responsible))
	fmt.Fprintf(&b, "🗓️ <b>Fecha Planificada:</b> %s\n", d.Target.Display())
	fmt.Fprintf(&b, "⏳ <b>Anticipación:</b> %d día(s)\n", d.LeadDays)
	for _, it := range g.Items {
		fmt.Fprintf(&b, "\n• <b>#%d</b> <i>%s</i>\n  %s\n  %s\n",
			it.RequestID,
			gateway.EscapeHTML(it.RequestName),
			gateway.EscapeHTML(it.Kind.Name),
			gateway.EscapeHTML(it.Kind.TaskText()),
		)
	}
	return b.String()
}
