package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rahul/hitobot/internal/gateway"
	"github.com/rahul/hitobot/internal/governance"
	"github.com/rahul/hitobot/internal/store"
)

// Call is one parsed command invocation.
type Call struct {
	Msg  gateway.Incoming
	User store.User
	Args []string
}

// Command defines the interface for every chat command.
type Command interface {
	Name() string
	Usage() string
	Description() string
	Execute(ctx context.Context, call Call) (string, error)
}

// Func adapts a function into a Command. Role is the minimum role allowed to
// run it; Public commands need no registration at all.
type Func struct {
	Cmd    string
	Args   string
	Help   string
	Role   governance.Role
	Public bool
	Run    func(ctx context.Context, call Call) (string, error)
}

func (f Func) Name() string        { return f.Cmd }
func (f Func) Description() string { return f.Help }

func (f Func) Usage() string {
	if f.Args == "" {
		return "/" + f.Cmd
	}
	return "/" + f.Cmd + " " + f.Args
}

func (f Func) Execute(ctx context.Context, call Call) (string, error) {
	return f.Run(ctx, call)
}

// Registry manages the set of available commands in registration order.
type Registry struct {
	commands map[string]Command
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

func (r *Registry) Register(c Command) {
	if _, dup := r.commands[c.Name()]; !dup {
		r.order = append(r.order, c.Name())
	}
	r.commands[c.Name()] = c
}

func (r *Registry) Get(name string) (Command, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// Commands lists registered commands in registration order.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}

// Policy derives the role policy from the commands' declared roles.
func (r *Registry) Policy() *governance.RolePolicy {
	p := governance.NewRolePolicy()
	for _, c := range r.Commands() {
		f, ok := c.(Func)
		if !ok {
			continue
		}
		if f.Public {
			p.AllowPublic(f.Cmd)
		}
		if f.Role != "" {
			p.Require(f.Cmd, f.Role)
		}
	}
	return p
}

// Help renders the command list visible to role.
func (r *Registry) Help(role governance.Role) string {
	sections := []struct {
		title string
		role  governance.Role
	}{
		{"Comandos disponibles", governance.RoleNotificado},
		{"Comandos de Gestión (Rol: contrataciones o admin)", governance.RoleContrataciones},
		{"Comandos de Administrador (Rol: admin)", governance.RoleAdmin},
	}
	var b strings.Builder
	for _, sec := range sections {
		if rankOf(role) < rankOf(sec.role) {
			continue
		}
		var lines []string
		for _, c := range r.Commands() {
			if roleOf(c) != sec.role {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s - %s", html.EscapeString(c.Usage()), c.Description()))
		}
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<b>%s:</b>\n%s\n", sec.title, strings.Join(lines, "\n"))
	}
	return b.String()
}

func roleOf(c Command) governance.Role {
	if f, ok := c.(Func); ok && f.Role != "" {
		return f.Role
	}
	return governance.RoleNotificado
}

func rankOf(r governance.Role) int {
	switch r {
	case governance.RoleAdmin:
		return 3
	case governance.RoleContrataciones:
		return 2
	case governance.RoleNotificado:
		return 1
	}
	return 0
}
