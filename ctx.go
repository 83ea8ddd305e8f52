package tenancy

import (
	"context"

	"github.com/goliatone/go-router"
)

var sessionCtxKey = &contextKey{"tenancy-session"}

type contextKey struct {
	name string
}

// DefaultLocalsKey is the router locals key holding the session.
const DefaultLocalsKey = "tenancy_session"

// DefaultIdentityLocalsKey is the router locals key holding the identity
// the current request was authenticated as.
const DefaultIdentityLocalsKey = "identity"

// WithSessionContext stores session in ctx.
func WithSessionContext(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session in ctx.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok && raw != nil
}

// TenantFromContext returns the active tenant id stored in ctx.
func TenantFromContext(ctx context.Context) (string, bool) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.ActiveTenantID == "" {
		return "", false
	}
	return session.ActiveTenantID, true
}

// CanFromContext checks write permissions for the session stored in ctx.
func CanFromContext(ctx context.Context, section Section) bool {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return false
	}
	return CanWrite(session.ActiveRole, section)
}

// GetRouterSession extracts the session from the router locals
func GetRouterSession(ctx router.Context, key string) (*Session, bool) {
	if key == "" {
		key = DefaultLocalsKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	session, ok := raw.(*Session)
	return session, ok && session != nil
}

// CanFromRouter checks write permissions using the router locals
func CanFromRouter(ctx router.Context, section Section) bool {
	session, ok := GetRouterSession(ctx, "")
	if !ok {
		return false
	}
	return CanWrite(session.ActiveRole, section)
}

// IdentityFromRouter returns the request identity stored in the router
// locals under key.
func IdentityFromRouter(ctx router.Context, key string) (*Identity, bool) {
	if key == "" {
		key = DefaultIdentityLocalsKey
	}
	identity, ok := ctx.Locals(key).(*Identity)
	return identity, ok && identity != nil && identity.ID != ""
}

// RequestIdentityID is the default request identity lookup used by the
// HTTP helpers.
func RequestIdentityID(ctx router.Context) (string, bool) {
	identity, ok := IdentityFromRouter(ctx, "")
	if !ok {
		return "", false
	}
	return identity.ID, true
}

// ownsState reports whether the request identity may see state. A state
// without identity holds nothing tied to a user.
func ownsState(ctx router.Context, state State, lookup func(router.Context) (string, bool)) bool {
	if state.Identity == nil {
		return true
	}
	id, ok := lookup(ctx)
	return ok && id == state.Identity.ID
}
