package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rahul/hitobot/internal/governance"
	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/notify"
)

const (
	headerOnTime  = "<b>PLAZOS CUMPLIDOS DENTRO DEL PLAN DE CONTRATACIONES Y PROYECTOS DE INVERSIÓN</b>\n\n"
	headerDelayed = "<b>PLAZOS VENCIDOS DENTRO DEL PLAN DE CONTRATACIONES Y PROYECTOS DE INVERSIÓN</b>\n\n"
)

func (b *Bot) registerCommands() {
	for _, c := range []Func{
		{Cmd: "start", Help: "Inicia la conversación y solicita acceso.", Public: true, Run: b.start},
		{Cmd: "help", Help: "Muestra esta ayuda.", Run: b.help},
		{Cmd: "hoy", Help: "Muestra los hitos que vencen hoy.", Run: b.today},
		{Cmd: "balance", Args: "[distrito] [servicio]", Help: "Resumen del estado de las solicitudes activas.", Run: b.balance},
		{Cmd: "retrasado", Args: "[distrito] [gerencia] [servicio]", Help: "Solicitudes con el hito actual vencido.", Run: b.delayed},
		{Cmd: "listar", Args: "[distrito] [servicio]", Help: "Lista las solicitudes.", Run: b.list},
		{Cmd: "ver", Args: "<id>", Help: "Muestra el detalle de una solicitud.", Run: b.show},
		{Cmd: "pendientes", Args: "[distrito] [gerencia] [servicio]", Help: "Hitos pendientes agrupados por fecha límite.", Run: b.pending},
		{Cmd: "unidad_usuaria", Args: "[distrito] [gerencia] [servicio]", Help: "Solicitudes donde la gerencia es la responsable.", Run: b.ownedByUnit},
		{Cmd: "estado", Help: "Estado del servicio y de la última revisión.", Run: b.status},
		{Cmd: "replanificar", Args: "<id> <DD/MM/AAAA>", Help: "Cambia la fecha del hito actual.", Role: governance.RoleContrataciones, Run: b.replan},
		{Cmd: "completar", Args: "<id>", Help: "Marca el hito actual como completado.", Role: governance.RoleContrataciones, Run: b.complete},
		{Cmd: "cargar_excel", Help: "Sincroniza las solicitudes desde el Excel.", Role: governance.RoleAdmin, Run: b.importSync},
		{Cmd: "sincerar_datos", Help: "Borra y recarga todas las solicitudes desde el Excel.", Role: governance.RoleAdmin, Run: b.importReset},
		{Cmd: "configurar_dias", Args: "<N>", Help: "Define los días de antelación de las alertas.", Role: governance.RoleAdmin, Run: b.setLeadDays},
		{Cmd: "configurar_hora", Args: "<HH:MM>", Help: "Define la hora de la revisión diaria.", Role: governance.RoleAdmin, Run: b.setNotificationTime},
		{Cmd: "revisar", Help: "Ejecuta la revisión de vencimientos ahora.", Role: governance.RoleAdmin, Run: b.sweep},
		{Cmd: "listar_usuarios", Help: "Muestra todos los usuarios registrados.", Role: governance.RoleAdmin, Run: b.listUsers},
		{Cmd: "autorizar", Args: "<id> [rol]", Help: "Autoriza a un usuario.", Role: governance.RoleAdmin, Run: b.authorize},
	} {
		b.registry.Register(c)
	}
}

// parseFilter assigns positional args to fields. Missing args and "TODOS"
// match everything.
func parseFilter(args []string, example string, fields ...*string) error {
	if len(args) > len(fields) {
		return usage(example)
	}
	for i, a := range args {
		a = strings.TrimSpace(a)
		if strings.EqualFold(a, milestone.AnyValue) {
			a = milestone.AnyValue
		}
		*fields[i] = a
	}
	return nil
}

func parseID(args []string, example string) (int64, error) {
	if len(args) == 0 {
		return 0, usage(example)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, usage(example)
	}
	return id, nil
}

func (b *Bot) leadDays(ctx context.Context) (int, error) {
	return b.Settings.LeadDays(ctx, 0)
}

func (b *Bot) help(_ context.Context, call Call) (string, error) {
	return b.registry.Help(call.User.Role), nil
}

func (b *Bot) today(ctx context.Context, _ Call) (string, error) {
	zero := 0
	d, err := b.Sweeps.Preview(ctx, &zero)
	if err != nil {
		return "", err
	}
	if d.Empty() {
		return "No hay hitos que venzan hoy.", nil
	}
	var sb strings.Builder
	sb.WriteString(headerOnTime)
	fmt.Fprintf(&sb, "<b>Fecha: %s</b>\n\n", dayLine(d.Target))
	for _, g := range d.Groups {
		fmt.Fprintf(&sb, "👤 <b>Responsable:</b> %s\n\n", esc(g.Responsible))
		for _, it := range g.Items {
			writeDueItem(&sb, it)
		}
	}
	return sb.String(), nil
}

func writeDueItem(sb *strings.Builder, it notify.DueItem) {
	fmt.Fprintf(sb, "<b>Gerencia:</b> %s\n", esc(orDefault(it.Unit, "No especificada")))
	fmt.Fprintf(sb, "<b>Fase:</b> %s\n", esc(it.Kind.Name))
	fmt.Fprintf(sb, "<b>Tarea a Cumplir:</b> %s\n", esc(it.Kind.TaskText()))
	fmt.Fprintf(sb, "🟢 <b>Solicitud (ID %d):</b> %s\n", it.RequestID, esc(it.RequestName))
	sb.WriteString(separator + "\n\n")
}

func (b *Bot) balance(ctx context.Context, call Call) (string, error) {
	var f milestone.Filter
	if err := parseFilter(call.Args, "/balance NORTE OBRAS", &f.District, &f.Service); err != nil {
		return "", err
	}
	lead, err := b.leadDays(ctx)
	if err != nil {
		return "", err
	}
	bal, err := b.Engine.Balance(ctx, f, lead)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("📊 <b>Balance General de Solicitudes Activas</b>\n\n")
	sb.WriteString(filterLine(f))
	fmt.Fprintf(&sb, "Total de solicitudes activas: <b>%d</b>\n\n", bal.Total)
	fmt.Fprintf(&sb, "🟢 A tiempo: <b>%d</b>\n", bal.OnTime)
	fmt.Fprintf(&sb, "🟡 Próximas a vencer (%d %s o menos): <b>%d</b>\n", lead, plural(lead, "día", "días"), bal.Upcoming)
	fmt.Fprintf(&sb, "🔴 Retrasadas: <b>%d</b>\n", bal.Delayed)
	return sb.String(), nil
}

func (b *Bot) delayed(ctx context.Context, call Call) (string, error) {
	var f milestone.Filter
	if err := parseFilter(call.Args, "/retrasado NORTE TODOS OBRAS", &f.District, &f.Unit, &f.Service); err != nil {
		return "", err
	}
	reqs, err := b.Engine.ListActive(ctx, f)
	if err != nil {
		return "", err
	}
	today := b.Engine.Today()
	var late []item
	for _, it := range assessAll(b.Engine.Catalog(), reqs, today, 0) {
		if it.Status == milestone.StatusDelayed {
			late = append(late, it)
		}
	}
	if len(late) == 0 {
		return "¡Excelente! No hay solicitudes retrasadas con los filtros seleccionados.", nil
	}

	keys, groups := groupBy(late, func(it item) string { return orDefault(it.req.Unit, "No especificada") })
	var sb strings.Builder
	sb.WriteString(headerDelayed)
	sb.WriteString(filterLine(f))
	for _, unit := range keys {
		fmt.Fprintf(&sb, "🏢 <b>Gerencia:</b> %s\n\n", esc(unit))
		for _, it := range groups[unit] {
			overdue := -it.DaysRemaining
			fmt.Fprintf(&sb, "<b>Responsable:</b> %s\n", esc(orDefault(it.req.Responsible, "No especificado")))
			fmt.Fprintf(&sb, "<b>Fase:</b> %s\n", esc(it.Kind.Name))
			fmt.Fprintf(&sb, "<b>Tarea a Cumplir:</b> %s\n", esc(it.Kind.TaskText()))
			fmt.Fprintf(&sb, "<b>Fecha Límite:</b> %s (%d %s de retraso)\n", it.Planned.Display(), overdue, plural(overdue, "día", "días"))
			writeSolicitud(&sb, "🔴", it.req)
			sb.WriteString(separator + "\n\n")
		}
	}
	return sb.String(), nil
}

func (b *Bot) list(ctx context.Context, call Call) (string, error) {
	var f milestone.Filter
	if err := parseFilter(call.Args, "/listar NORTE OBRAS", &f.District, &f.Service); err != nil {
		return "", err
	}
	reqs, err := b.Requests.ListRequests(ctx, f)
	if err != nil {
		return "", err
	}
	if len(reqs) == 0 {
		return "No se encontraron solicitudes con los filtros seleccionados.", nil
	}
	var sb strings.Builder
	sb.WriteString(filterLine(f))
	for _, r := range reqs {
		mark := ""
		if !r.Active() {
			mark = " ✅"
		}
		fmt.Fprintf(&sb, "ID: %d - %s%s\n", r.ID, esc(r.Name), mark)
	}
	sb.WriteString("\n--- Fin de la lista ---\nUsa /ver &lt;id&gt; para ver los detalles.")
	return sb.String(), nil
}

func (b *Bot) show(ctx context.Context, call Call) (string, error) {
	id, err := parseID(call.Args, "/ver 12")
	if err != nil {
		return "", err
	}
	r, err := b.Engine.GetRequest(ctx, id)
	if err != nil {
		return "", forRequest(id, err)
	}
	lead, err := b.leadDays(ctx)
	if err != nil {
		return "", err
	}
	today := b.Engine.Today()
	cat := b.Engine.Catalog()
	current := r.CurrentPosition()

	var sb strings.Builder
	fmt.Fprintf(&sb, "📄 <b>Solicitud %d</b>\n%s\n\n", r.ID, esc(r.Name))
	fmt.Fprintf(&sb, "<b>Servicio:</b> %s\n", esc(orDefault(r.Service, "No especificado")))
	fmt.Fprintf(&sb, "<b>Distrito:</b> %s\n", esc(orDefault(r.District, "No especificado")))
	fmt.Fprintf(&sb, "<b>Gerencia:</b> %s\n", esc(orDefault(r.Unit, "No especificada")))
	fmt.Fprintf(&sb, "<b>Responsable:</b> %s\n", esc(orDefault(r.Responsible, "No especificado")))
	if r.Stage != "" {
		fmt.Fprintf(&sb, "<b>Etapa:</b> %s\n", esc(r.Stage))
	}
	sb.WriteString("\n<b>Hitos:</b>\n")
	for pos, rec := range r.Records {
		k := cat.At(pos)
		switch {
		case rec.NotApplicable:
			fmt.Fprintf(&sb, "✅ %s: no aplica\n", esc(k.Name))
		case rec.Completed():
			fmt.Fprintf(&sb, "✅ %s: completado el %s\n", esc(k.Name), rec.Actual.Display())
		case pos == current:
			st := milestone.Classify(rec.Planned, today, lead)
			fmt.Fprintf(&sb, "➡️ <b>%s: %s</b> %s", esc(k.Name), rec.Planned.Display(), statusMark(st))
			if days := today.DaysUntil(rec.Planned); days >= 0 {
				fmt.Fprintf(&sb, " (faltan %d %s)", days, plural(days, "día", "días"))
			} else {
				fmt.Fprintf(&sb, " (%d %s de retraso)", -days, plural(-days, "día", "días"))
			}
			sb.WriteString("\n")
		case rec.Planned.IsZero():
			fmt.Fprintf(&sb, "⚪️ %s: sin fecha\n", esc(k.Name))
		default:
			fmt.Fprintf(&sb, "⚪️ %s: %s\n", esc(k.Name), rec.Planned.Display())
		}
		if rec.Postponements > 0 {
			fmt.Fprintf(&sb, "    ↪️ replanificado %d %s\n", rec.Postponements, plural(rec.Postponements, "vez", "veces"))
		}
	}
	if current < 0 {
		sb.WriteString("\n🎉 Todos los hitos planificados están completados.\n")
	}
	return sb.String(), nil
}

func (b *Bot) pending(ctx context.Context, call Call) (string, error) {
	var f milestone.Filter
	if err := parseFilter(call.Args, "/pendientes NORTE TODOS OBRAS", &f.District, &f.Unit, &f.Service); err != nil {
		return "", err
	}
	reqs, err := b.Engine.ListActive(ctx, f)
	if err != nil {
		return "", err
	}
	today := b.Engine.Today()
	items := assessAll(b.Engine.Catalog(), reqs, today, 0)
	if len(items) == 0 {
		return "¡Buenas noticias! No se encontraron solicitudes con hitos pendientes.", nil
	}

	keys, groups := groupBy(items, func(it item) string { return it.Planned.String() })
	var sb strings.Builder
	sb.WriteString(headerOnTime)
	sb.WriteString(filterLine(f))
	for _, day := range keys {
		group := groups[day]
		fmt.Fprintf(&sb, "<b>Fecha Límite: %s</b>\n\n", dayLine(group[0].Planned))
		for _, it := range group {
			mark := "🟢"
			if it.Planned.Before(today) {
				mark = "🔴"
			}
			fmt.Fprintf(&sb, "<b>Gerencia:</b> %s\n", esc(orDefault(it.req.Unit, "No especificada")))
			fmt.Fprintf(&sb, "<b>Responsable:</b> %s\n", esc(orDefault(it.req.Responsible, "No especificado")))
			fmt.Fprintf(&sb, "<b>Fase:</b> %s\n", esc(it.Kind.Name))
			fmt.Fprintf(&sb, "<b>Tarea a Cumplir:</b> %s\n", esc(it.Kind.TaskText()))
			writeSolicitud(&sb, mark, it.req)
			sb.WriteString(separator + "\n\n")
		}
	}
	return sb.String(), nil
}

func (b *Bot) ownedByUnit(ctx context.Context, call Call) (string, error) {
	f := milestone.Filter{OwnedByUnit: true}
	if err := parseFilter(call.Args, "/unidad_usuaria NORTE TODOS OBRAS", &f.District, &f.Unit, &f.Service); err != nil {
		return "", err
	}
	reqs, err := b.Engine.ListActive(ctx, f)
	if err != nil {
		return "", err
	}
	lead, err := b.leadDays(ctx)
	if err != nil {
		return "", err
	}
	items := assessAll(b.Engine.Catalog(), reqs, b.Engine.Today(), lead)
	if len(items) == 0 {
		return "No hay solicitudes en manos de la unidad usuaria con los filtros seleccionados.", nil
	}

	keys, groups := groupBy(items, func(it item) string { return orDefault(it.req.Unit, "No especificada") })
	var sb strings.Builder
	sb.WriteString("<b>SOLICITUDES EN MANOS DE LA UNIDAD USUARIA</b>\n\n")
	sb.WriteString(filterLine(f))
	for _, unit := range keys {
		fmt.Fprintf(&sb, "🏢 <b>Gerencia:</b> %s\n\n", esc(unit))
		for _, it := range groups[unit] {
			fmt.Fprintf(&sb, "<b>Fase:</b> %s\n", esc(it.Kind.Name))
			fmt.Fprintf(&sb, "<b>Tarea a Cumplir:</b> %s\n", esc(it.Kind.TaskText()))
			fmt.Fprintf(&sb, "<b>Fecha Límite:</b> %s\n", dayLine(it.Planned))
			writeSolicitud(&sb, statusMark(it.Status), it.req)
			sb.WriteString(separator + "\n\n")
		}
	}
	return sb.String(), nil
}
