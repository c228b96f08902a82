package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/hitobot/internal/gateway"
	"github.com/rahul/hitobot/internal/governance"
	"github.com/rahul/hitobot/internal/ingest"
	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/notify"
	"github.com/rahul/hitobot/internal/observability"
	"github.com/rahul/hitobot/internal/store"
)

// Engine is the milestone engine as used by chat commands.
type Engine interface {
	Catalog() *milestone.Catalog
	Location() *time.Location
	Today() milestone.Date
	GetRequest(ctx context.Context, id int64) (*milestone.Request, error)
	ListActive(ctx context.Context, f milestone.Filter) ([]*milestone.Request, error)
	Balance(ctx context.Context, f milestone.Filter, leadDays int) (milestone.Balance, error)
	CompleteCurrentMilestone(ctx context.Context, id int64) (milestone.Completion, error)
	ReplanCurrentMilestone(ctx context.Context, id int64, planned milestone.Date) (milestone.Replan, error)
}

// Requests lists stored requests, finished ones included.
type Requests interface {
	ListRequests(ctx context.Context, f milestone.Filter) ([]*milestone.Request, error)
}

// Users is the registered-user directory.
type Users interface {
	GetUser(ctx context.Context, id int64) (store.User, error)
	Register(ctx context.Context, id int64, name string, claimAdmin bool) (store.User, bool, error)
	AdminID(ctx context.Context) (int64, bool, error)
	Authorize(ctx context.Context, id int64, role governance.Role) error
	ListUsers(ctx context.Context) ([]store.User, error)
}

// Settings holds the runtime notification settings.
type Settings interface {
	LeadDays(ctx context.Context, def int) (int, error)
	SetLeadDays(ctx context.Context, n int) error
	NotificationTime(ctx context.Context, def string) (string, error)
	SetNotificationTime(ctx context.Context, hhmm string) error
}

// Sweeps runs the notification sweep on demand.
type Sweeps interface {
	RunOnce(ctx context.Context) (notify.Digest, notify.Report, error)
	Preview(ctx context.Context, lead *int) (notify.Digest, error)
}

// Loader imports the schedule workbook.
type Loader interface {
	ImportFile(ctx context.Context, path, sheet string, reset bool) (ingest.Result, error)
	Import(ctx context.Context, r io.Reader, sheet string, reset bool) (ingest.Result, error)
}

// Notifier sends unsolicited messages, such as access requests to the admin.
type Notifier interface {
	Send(chatID string, text string) error
}

// Fetcher downloads uploaded documents.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// CommandObserver records command outcomes.
type CommandObserver interface {
	ObserveCommand(command string, ok bool)
}

// Deps are the services the commands act on.
type Deps struct {
	Engine   Engine
	Requests Requests
	Users    Users
	Settings Settings
	Sweeps   Sweeps
	Loader   Loader
	// Workbook is the server-side schedule used when no file is uploaded.
	Workbook string
	Sheet    string
}

// Bot routes chat messages to commands. It implements gateway.Handler.
type Bot struct {
	Deps
	registry *Registry
	policy   governance.PolicyEngine
	logger   *zap.Logger
	observer CommandObserver
	notifier Notifier
	fetcher  Fetcher
}

var _ gateway.Handler = (*Bot)(nil)

type Option func(*Bot)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPolicy replaces the role policy derived from the command table.
func WithPolicy(p governance.PolicyEngine) Option {
	return func(b *Bot) { b.policy = p }
}

func WithCommandObserver(o CommandObserver) Option {
	return func(b *Bot) { b.observer = o }
}

func New(deps Deps, opts ...Option) *Bot {
	b := &Bot{Deps: deps, logger: zap.NewNop()}
	b.registry = NewRegistry()
	b.registerCommands()
	b.policy = b.registry.Policy()
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect attaches the outbound channel, once the gateway exists.
func (b *Bot) Connect(n Notifier, f Fetcher) {
	b.notifier = n
	b.fetcher = f
}

func (b *Bot) Registry() *Registry { return b.registry }

// usageError is a malformed invocation; its text is shown as is.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usage(example string) error {
	return usageError{msg: "Uso incorrecto. Ejemplo: " + example}
}

// requestError ties a failure to the request it concerns.
type requestError struct {
	id  int64
	err error
}

func (e requestError) Error() string { return fmt.Sprintf("request %d: %v", e.id, e.err) }
func (e requestError) Unwrap() error { return e.err }

func forRequest(id int64, err error) error {
	if err == nil {
		return nil
	}
	return requestError{id: id, err: err}
}

// parseCommand splits "/cmd@bot arg1 arg2" into a lower-case name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := splitArgs(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name := fields[0]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:], true
}

// splitArgs splits on whitespace, keeping double-quoted values together so
// filters such as "GERENCIA DE OBRAS" can be passed.
func splitArgs(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		pending bool
	)
	flush := func() {
		if pending {
			out = append(out, cur.String())
			cur.Reset()
			pending = false
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	flush()
	return out
}

// Handle answers one incoming message.
func (b *Bot) Handle(ctx context.Context, msg gateway.Incoming) string {
	observability.Heartbeat()

	name, args, ok := parseCommand(msg.Text)
	if !ok {
		if _, err := b.Users.GetUser(ctx, msg.UserID); errors.Is(err, store.ErrUserNotFound) {
			return b.admit(ctx, msg)
		}
		return ""
	}

	cmd, found := b.registry.Get(name)
	if !found {
		b.logger.Debug("Unknown command", zap.String("command", name), zap.Int64("user_id", msg.UserID))
		return "Comando no reconocido. Usa /help."
	}

	user, err := b.Users.GetUser(ctx, msg.UserID)
	registered := err == nil
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		b.observe(name, false)
		return b.replyError(name, msg, err)
	}

	res, err := b.policy.Evaluate(ctx, governance.Request{
		Command:    name,
		Role:       user.Role,
		Status:     user.Status,
		Registered: registered,
	})
	if err != nil {
		b.observe(name, false)
		return b.replyError(name, msg, err)
	}
	if !res.Allowed() {
		b.observe(name, false)
		b.logger.Info("Command denied",
			observability.Event(observability.EventTypeAccess),
			zap.String("command", name),
			zap.Int64("user_id", msg.UserID),
			zap.String("reason", res.Reason),
		)
		if !registered || user.Status != governance.StatusAuthorized {
			return b.admit(ctx, msg)
		}
		return res.Reason
	}

	start := time.Now()
	reply, err := cmd.Execute(ctx, Call{Msg: msg, User: user, Args: args})
	b.observe(name, err == nil)
	if err != nil {
		return b.replyError(name, msg, err)
	}
	b.logger.Info("Command executed",
		observability.Event(observability.EventTypeCommand),
		zap.String("command", name),
		zap.Int64("user_id", msg.UserID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return reply
}

func (b *Bot) observe(name string, ok bool) {
	if b.observer != nil {
		b.observer.ObserveCommand(name, ok)
	}
}

// admit handles a message from a user who is not yet authorized: unknown
// users are registered as pending and the administrator is told.
func (b *Bot) admit(ctx context.Context, msg gateway.Incoming) string {
	user, created, err := b.Users.Register(ctx, msg.UserID, msg.UserName, false)
	if err != nil {
		return b.replyError("admit", msg, err)
	}
	switch {
	case created:
		b.logger.Info("Access requested",
			observability.Event(observability.EventTypeAccess),
			zap.Int64("user_id", msg.UserID),
			zap.String("name", msg.UserName),
		)
		b.notifyAdmin(ctx, msg)
		return "Tu solicitud de acceso está siendo validada por el administrador. Por favor, espera."
	case user.Status == governance.StatusPending:
		return "Tu solicitud de acceso todavía está pendiente."
	}
	return "Comando no reconocido. Usa /help."
}

func (b *Bot) notifyAdmin(ctx context.Context, msg gateway.Incoming) {
	if b.notifier == nil {
		return
	}
	admin, ok, err := b.Users.AdminID(ctx)
	if err != nil || !ok {
		return
	}
	text := fmt.Sprintf("<b>⚠️ Nueva Solicitud de Acceso ⚠️</b>\n\n"+
		"El usuario <b>%s</b> (ID: <code>%d</code>) quiere usar el bot.\n\n"+
		"Para autorizarlo, usa el comando:\n<code>/autorizar %d [rol]</code>\n\n"+
		"Roles disponibles: <code>%s</code>, <code>%s</code>.",
		gateway.EscapeHTML(msg.UserName), msg.UserID, msg.UserID,
		governance.RoleNotificado, governance.RoleContrataciones)
	if err := b.notifier.Send(strconv.FormatInt(admin, 10), text); err != nil {
		b.logger.Error("Could not notify admin", zap.Int64("admin_id", admin), zap.Error(err))
	}
}

// replyError maps command failures to chat replies.
func (b *Bot) replyError(name string, msg gateway.Incoming, err error) string {
	var (
		ue usageError
		re requestError
	)
	errors.As(err, &re)
	switch {
	case errors.As(err, &ue):
		return ue.msg
	case errors.Is(err, milestone.ErrRequestNotFound):
		return fmt.Sprintf("No se encontró ninguna solicitud con el ID %d.", re.id)
	case errors.Is(err, milestone.ErrNoActiveMilestone):
		return fmt.Sprintf("La solicitud %d no tiene hitos pendientes: ya fue completada o no tiene fechas planificadas.", re.id)
	case errors.Is(err, milestone.ErrInvalidDate):
		return "Fecha inválida. Usa el formato DD/MM/AAAA."
	case errors.Is(err, store.ErrUserNotFound):
		return "No existe un usuario con ese ID. Debe enviar /start primero."
	case errors.Is(err, notify.ErrSweepInProgress):
		return "Ya hay una revisión en curso. Intenta de nuevo en unos minutos."
	case errors.Is(err, milestone.ErrStoreUnavailable):
		b.logger.Error("Store unavailable", zap.String("command", name), zap.Error(err))
		return "La base de datos no está disponible en este momento. Intenta de nuevo."
	}
	b.logger.Error("Command failed",
		zap.String("command", name),
		zap.Int64("user_id", msg.UserID),
		zap.Error(err),
	)
	return "❌ Ocurrió un error: " + gateway.EscapeHTML(err.Error())
}
