package governance

import (
	"context"
	"fmt"
)

// Role is the access level of a chat user.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleContrataciones Role = "contrataciones"
	RoleNotificado     Role = "notificado"
)

// ParseRole accepts the role names used in chat commands.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleContrataciones, RoleNotificado:
		return Role(s), true
	}
	return "", false
}

// Status tracks whether an administrator has approved a user.
type Status string

const (
	StatusPending    Status = "pendiente"
	StatusAuthorized Status = "autorizado"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a command to be evaluated.
type Request struct {
	Command string
	Role    Role
	Status  Status
	// Registered is false for chats that never sent /start.
	Registered bool
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

func (r Result) Allowed() bool { return r.Effect == EffectAllow }

// PolicyEngine evaluates commands against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// RolePolicy grants each command to a minimum role. Commands without a rule
// are open to any authorized user; public commands need no registration.
type RolePolicy struct {
	Public   map[string]bool
	Required map[string]Role
}

func NewRolePolicy() *RolePolicy {
	return &RolePolicy{
		Public:   make(map[string]bool),
		Required: make(map[string]Role),
	}
}

// AllowPublic marks a command usable by anyone, registered or not.
func (p *RolePolicy) AllowPublic(command string) {
	p.Public[command] = true
}

// Require restricts a command to role and everything above it.
func (p *RolePolicy) Require(command string, role Role) {
	p.Required[command] = role
}

func rank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleContrataciones:
		return 2
	case RoleNotificado:
		return 1
	}
	return 0
}

func (p *RolePolicy) Evaluate(ctx context.Context, req Request) (Result, error) {
	if p.Public[req.Command] {
		return Result{Effect: EffectAllow, Reason: "Public command"}, nil
	}
	if !req.Registered {
		return Result{
			Effect: EffectDeny,
			Reason: "No estás registrado. Usa /start para solicitar acceso.",
		}, nil
	}
	if req.Status != StatusAuthorized {
		return Result{
			Effect: EffectDeny,
			Reason: "Tu acceso está pendiente de autorización por un administrador.",
		}, nil
	}
	if need, ok := p.Required[req.Command]; ok && rank(req.Role) < rank(need) {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("El comando /%s requiere el rol %s.", req.Command, need),
		}, nil
	}
	return Result{Effect: EffectAllow, Reason: "Approved by role policy"}, nil
}
