package main

import (
	"crypto/subtle"

	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
)

// SessionTokenHeader carries the Kratos session token returned at sign in.
const SessionTokenHeader = "X-Session-Token"

// SessionTokenIdentity marks requests presenting the held Kratos session
// token as the engine identity. Other requests reach the handlers without an
// identity and are refused by the session routes.
func SessionTokenIdentity(held func() string, engine tenancy.SessionStateReader) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			presented := ctx.Header(SessionTokenHeader)
			token := held()
			if presented == "" || token == "" {
				return next(ctx)
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				return next(ctx)
			}
			if identity := engine.State().Identity; identity != nil {
				ctx.Locals(tenancy.DefaultIdentityLocalsKey, identity)
			}
			return next(ctx)
		}
	}
}
