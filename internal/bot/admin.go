package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rahul/hitobot/internal/governance"
	"github.com/rahul/hitobot/internal/ingest"
	"github.com/rahul/hitobot/internal/observability"
	"github.com/rahul/hitobot/internal/store"
)

// maxIssues caps the skipped-row details shown after an import.
const maxIssues = 10

func (b *Bot) start(ctx context.Context, call Call) (string, error) {
	u, created, err := b.Users.Register(ctx, call.Msg.UserID, call.Msg.UserName, true)
	if err != nil {
		return "", err
	}
	switch {
	case created && u.Role == governance.RoleAdmin:
		b.logger.Info("Administrator registered",
			observability.Event(observability.EventTypeAccess),
			zap.Int64("user_id", u.TelegramID),
		)
		return fmt.Sprintf("¡Hola, %s! Has sido configurado como administrador.", esc(call.Msg.UserName)), nil
	case created:
		b.notifyAdmin(ctx, call.Msg)
		return "Tu solicitud de acceso está siendo validada por el administrador. Por favor, espera.", nil
	case !u.Authorized():
		return "Tu solicitud de acceso todavía está pendiente.", nil
	}
	return "¡Bienvenido al Bot de Alertas de Contratación!\nUsa /help para ver los comandos disponibles.", nil
}

func (b *Bot) complete(ctx context.Context, call Call) (string, error) {
	const example = "/completar 12"
	if len(call.Args) != 1 {
		return "", usage(example)
	}
	id, err := parseID(call.Args, example)
	if err != nil {
		return "", err
	}
	done, err := b.Engine.CompleteCurrentMilestone(ctx, id)
	if err != nil {
		return "", forRequest(id, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Hito '%s' de la solicitud %d marcado como completado.\n", esc(done.Completed.Name), id)
	if done.Handoff != "" {
		fmt.Fprintf(&sb, "ℹ️ El responsable de la solicitud ahora es '%s'.\n", esc(done.Handoff))
	}
	if done.Finished() {
		sb.WriteString("🎉 ¡Todos los hitos planificados de esta solicitud han sido completados!")
	} else {
		fmt.Fprintf(&sb, "➡️ El próximo hito es: '%s'.", esc(done.Next.Name))
	}
	return sb.String(), nil
}

func (b *Bot) replan(ctx context.Context, call Call) (string, error) {
	const example = "/replanificar 12 25/12/2025"
	if len(call.Args) < 2 {
		return "", usage(example)
	}
	id, err := parseID(call.Args, example)
	if err != nil {
		return "", err
	}
	loc := b.Engine.Location()
	date, err := ParseUserDate(strings.Join(call.Args[1:], " "), b.Engine.Today().Time(loc))
	if err != nil {
		return "", err
	}
	r, err := b.Engine.ReplanCurrentMilestone(ctx, id, date)
	if err != nil {
		return "", forRequest(id, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Hito '%s' de la solicitud %d replanificado para el %s.", esc(r.Kind.Name), id, r.Planned.Display())
	if len(r.Adjustments) > 0 {
		sb.WriteString("\n\n⚠️ <b>Hitos futuros ajustados automáticamente:</b>\n")
		for _, a := range r.Adjustments {
			fmt.Fprintf(&sb, "- %s movido a %s\n", esc(a.Kind.Name), a.Planned.Display())
		}
	}
	return sb.String(), nil
}

func (b *Bot) setLeadDays(ctx context.Context, call Call) (string, error) {
	const example = "/configurar_dias 3"
	if len(call.Args) != 1 {
		return "", usage(example)
	}
	n, err := strconv.Atoi(call.Args[0])
	if err != nil || n < 0 {
		return "", usage(example)
	}
	if err := b.Settings.SetLeadDays(ctx, n); err != nil {
		return "", err
	}
	b.logger.Info("Lead days updated", zap.Int("lead_days", n), zap.Int64("user_id", call.Msg.UserID))
	return fmt.Sprintf("✅ Configuración guardada: Notificaciones con %d día(s) de antelación.", n), nil
}

func (b *Bot) setNotificationTime(ctx context.Context, call Call) (string, error) {
	const example = "/configurar_hora 08:30"
	if len(call.Args) != 1 {
		return "", usage(example)
	}
	h, m, err := store.ParseClock(call.Args[0])
	if err != nil {
		return "", usage(example)
	}
	hhmm := fmt.Sprintf("%02d:%02d", h, m)
	if err := b.Settings.SetNotificationTime(ctx, hhmm); err != nil {
		return "", err
	}
	b.logger.Info("Notification time updated", zap.String("time", hhmm), zap.Int64("user_id", call.Msg.UserID))
	return fmt.Sprintf("✅ Configuración guardada: La revisión diaria se ejecutará a las %s.", hhmm), nil
}

func (b *Bot) authorize(ctx context.Context, call Call) (string, error) {
	const example = "/autorizar 123456789 contrataciones"
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return "", usage(example)
	}
	id, err := parseID(call.Args, example)
	if err != nil {
		return "", err
	}
	role := governance.RoleNotificado
	if len(call.Args) == 2 {
		r, ok := governance.ParseRole(strings.ToLower(call.Args[1]))
		if !ok || r == governance.RoleAdmin {
			return fmt.Sprintf("Rol inválido. Roles disponibles: %s, %s.",
				governance.RoleNotificado, governance.RoleContrataciones), nil
		}
		role = r
	}
	if err := b.Users.Authorize(ctx, id, role); err != nil {
		return "", err
	}
	b.logger.Info("User authorized",
		observability.Event(observability.EventTypeAccess),
		zap.Int64("user_id", id),
		zap.String("role", string(role)),
		zap.Int64("by", call.Msg.UserID),
	)
	if b.notifier != nil {
		text := fmt.Sprintf("🎉 ¡Tu acceso ha sido aprobado con el rol '%s'! Usa /help para ver los comandos disponibles.", role)
		if err := b.notifier.Send(strconv.FormatInt(id, 10), text); err != nil {
			b.logger.Warn("Could not notify authorized user", zap.Int64("user_id", id), zap.Error(err))
		}
	}
	return fmt.Sprintf("✅ Usuario %d autorizado con el rol '%s'.", id, role), nil
}

func (b *Bot) listUsers(ctx context.Context, _ Call) (string, error) {
	users, err := b.Users.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "No hay usuarios registrados.", nil
	}
	var sb strings.Builder
	sb.WriteString("<b>Usuarios registrados:</b>\n\n")
	for _, u := range users {
		fmt.Fprintf(&sb, "<b>Nombre:</b> %s\n<b>ID:</b> <code>%d</code>\n<b>Rol:</b> %s\n<b>Estado:</b> %s\n\n",
			esc(orDefault(u.Name, "Sin nombre")), u.TelegramID, u.Role, u.Status)
	}
	return sb.String(), nil
}

func (b *Bot) importSync(ctx context.Context, call Call) (string, error) {
	return b.importWorkbook(ctx, call, false)
}

func (b *Bot) importReset(ctx context.Context, call Call) (string, error) {
	return b.importWorkbook(ctx, call, true)
}

// importWorkbook loads the uploaded document when the command came as its
// caption, and the configured workbook otherwise.
func (b *Bot) importWorkbook(ctx context.Context, call Call, reset bool) (string, error) {
	var (
		res ingest.Result
		err error
	)
	switch {
	case call.Msg.Document != nil && b.fetcher != nil:
		body, ferr := b.fetcher.Fetch(ctx, call.Msg.Document.FileID)
		if ferr != nil {
			return "", fmt.Errorf("download %s: %w", call.Msg.Document.FileName, ferr)
		}
		defer body.Close()
		res, err = b.Loader.Import(ctx, body, b.Sheet, reset)
	case b.Workbook != "":
		res, err = b.Loader.ImportFile(ctx, b.Workbook, b.Sheet, reset)
	default:
		return "No hay un archivo Excel configurado. Envía el archivo con el comando como descripción.", nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if reset {
		sb.WriteString("✅ Datos sincerados: todas las solicitudes fueron recargadas.\n\n")
	} else {
		sb.WriteString("✅ Sincronización completada.\n\n")
	}
	fmt.Fprintf(&sb, "Nuevas: %d\nActualizadas: %d\n", res.Inserted, res.Updated)
	if reset {
		fmt.Fprintf(&sb, "Eliminadas: %d\n", res.Deleted)
	}
	fmt.Fprintf(&sb, "Filas omitidas: %d\n", res.Skipped)
	for i, issue := range res.Issues {
		if i == maxIssues {
			fmt.Fprintf(&sb, "… y %d más\n", len(res.Issues)-maxIssues)
			break
		}
		fmt.Fprintf(&sb, "• %s\n", esc(issue.String()))
	}
	return sb.String(), nil
}

func (b *Bot) sweep(ctx context.Context, _ Call) (string, error) {
	d, rep, err := b.Sweeps.RunOnce(ctx)
	if err != nil {
		return "", err
	}
	if d.Empty() {
		return fmt.Sprintf("No hay hitos que venzan el %s (%d día(s) de antelación).", d.Target.Display(), d.LeadDays), nil
	}
	return fmt.Sprintf("✅ Revisión ejecutada para el %s (%d día(s) de antelación).\n"+
		"Hitos encontrados: %d\nDestinatarios: %d\nMensajes enviados: %d\nFallidos: %d\nOmitidos: %d",
		d.Target.Display(), d.LeadDays, d.Len(), rep.Recipients, rep.Sent, rep.Failed, rep.Skipped), nil
}

func (b *Bot) status(ctx context.Context, _ Call) (string, error) {
	lead, err := b.leadDays(ctx)
	if err != nil {
		return "", err
	}
	at, err := b.Settings.NotificationTime(ctx, "")
	if err != nil {
		return "", err
	}
	if at == "" {
		at = "no configurada"
	}
	st := observability.GetStatus()

	var sb strings.Builder
	sb.WriteString("🩺 <b>Estado del servicio</b>\n\n")
	fmt.Fprintf(&sb, "<b>Activo desde hace:</b> %s\n", observability.Uptime())
	fmt.Fprintf(&sb, "<b>Antelación:</b> %d día(s)\n", lead)
	fmt.Fprintf(&sb, "<b>Hora de revisión:</b> %s\n", at)
	if st.Sweeps == 0 {
		sb.WriteString("<b>Última revisión:</b> ninguna\n")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "<b>Última revisión:</b> %s (fecha objetivo %s)\n",
		st.LastSweep.In(b.Engine.Location()).Format("02/01/2006 15:04"), st.LastTarget)
	fmt.Fprintf(&sb, "<b>Hitos:</b> %d, <b>enviados:</b> %d, <b>fallidos:</b> %d\n", st.LastMatches, st.LastSent, st.LastFailed)
	if st.LastError != "" {
		fmt.Fprintf(&sb, "<b>Error:</b> %s\n", esc(st.LastError))
	}
	fmt.Fprintf(&sb, "<b>Revisiones desde el arranque:</b> %d\n", st.Sweeps)
	return sb.String(), nil
}
