package main

import (
	"testing"

	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedState tenancy.State

func (s fixedState) State() tenancy.State { return tenancy.State(s) }

func TestSessionTokenIdentity(t *testing.T) {
	engine := fixedState(tenancy.State{
		Kind:     tenancy.StateActive,
		Identity: &tenancy.Identity{ID: "u1"},
	})
	held := func() string { return "st-1" }

	tests := []struct {
		name      string
		presented string
		held      func() string
		want      string
	}{
		{name: "matching token", presented: "st-1", held: held, want: "u1"},
		{name: "other token", presented: "st-2", held: held},
		{name: "no token", held: held},
		{name: "signed out", presented: "st-1", held: func() string { return "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			if tt.presented != "" {
				ctx.HeadersM[SessionTokenHeader] = tt.presented
			}
			if tt.want != "" {
				ctx.On("Locals", tenancy.DefaultIdentityLocalsKey, engine.State().Identity).Return(nil)
			}

			var reached bool
			handler := SessionTokenIdentity(tt.held, engine)(func(c router.Context) error {
				reached = true
				return nil
			})
			require.NoError(t, handler(ctx))
			assert.True(t, reached)

			id, ok := tenancy.RequestIdentityID(ctx)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, id)
			ctx.AssertExpectations(t)
		})
	}
}
