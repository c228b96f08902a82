package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolePolicy_Evaluate(t *testing.T) {
	policy := NewRolePolicy()
	policy.AllowPublic("start")
	policy.Require("replanificar", RoleContrataciones)
	policy.Require("autorizar", RoleAdmin)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want Effect
	}{
		{"public without registration", Request{Command: "start"}, EffectAllow},
		{"unregistered", Request{Command: "hoy"}, EffectDeny},
		{"pending user", Request{Command: "hoy", Registered: true, Role: RoleNotificado, Status: StatusPending}, EffectDeny},
		{"open command", Request{Command: "hoy", Registered: true, Role: RoleNotificado, Status: StatusAuthorized}, EffectAllow},
		{"role too low", Request{Command: "replanificar", Registered: true, Role: RoleNotificado, Status: StatusAuthorized}, EffectDeny},
		{"exact role", Request{Command: "replanificar", Registered: true, Role: RoleContrataciones, Status: StatusAuthorized}, EffectAllow},
		{"admin outranks", Request{Command: "replanificar", Registered: true, Role: RoleAdmin, Status: StatusAuthorized}, EffectAllow},
		{"admin only", Request{Command: "autorizar", Registered: true, Role: RoleContrataciones, Status: StatusAuthorized}, EffectDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := policy.Evaluate(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Effect, res.Reason)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("contrataciones")
	assert.True(t, ok)
	assert.Equal(t, RoleContrataciones, r)

	_, ok = ParseRole("root")
	assert.False(t, ok)
}
