package tenancy

import (
	"github.com/goliatone/go-router"
)

// SessionMiddlewareConfig configures SessionMiddleware.
type SessionMiddlewareConfig struct {
	// LocalsKey is where the session is stored in router locals.
	LocalsKey string
	// RequireActive rejects requests without an active tenant.
	RequireActive bool
	// RequestIdentity returns the identity id the request was authenticated
	// as. The engine session is only published when it belongs to that
	// identity. Defaults to RequestIdentityID.
	RequestIdentity func(router.Context) (string, bool)
	Logger          Logger
	ErrorHandler    router.ErrorHandler
}

// SessionStateReader is the engine surface used by the middleware.
type SessionStateReader interface {
	State() State
}

// SessionMiddleware publishes the active session of engine to the router
// locals and the request context so handlers can use GetRouterSession and
// SessionFromContext.
func SessionMiddleware(engine SessionStateReader, config ...SessionMiddlewareConfig) router.MiddlewareFunc {
	cfg := SessionMiddlewareConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.LocalsKey == "" {
		cfg.LocalsKey = DefaultLocalsKey
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	if cfg.RequestIdentity == nil {
		cfg.RequestIdentity = RequestIdentityID
	}
	if cfg.ErrorHandler == nil {
		logger := cfg.Logger
		cfg.ErrorHandler = func(ctx router.Context, err error) error {
			return RespondError(ctx, logger, err)
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			state := engine.State()
			if !ownsState(ctx, state, cfg.RequestIdentity) {
				cfg.Logger.Debug("request identity does not own the engine session",
					"session_identity", state.Identity.ID,
				)
				state = State{Kind: StateUnresolved}
			}
			if state.Kind != StateActive || state.Session == nil {
				if cfg.RequireActive {
					return cfg.ErrorHandler(ctx, ErrNoSession)
				}
				return next(ctx)
			}

			session := state.Session
			ctx.Locals(cfg.LocalsKey, session)
			ctx.SetContext(WithSessionContext(ctx.Context(), session))
			return next(ctx)
		}
	}
}

// RequireWrite rejects requests whose session role cannot write to section.
// The session comes from the request context when SessionMiddleware ran
// first, otherwise from engine when it belongs to the request identity.
func RequireWrite(engine SessionStateReader, section Section, handler ...router.ErrorHandler) router.MiddlewareFunc {
	errHandler := func(ctx router.Context, err error) error {
		return RespondError(ctx, defaultLogger(), err)
	}
	if len(handler) > 0 && handler[0] != nil {
		errHandler = handler[0]
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			session, ok := SessionFromContext(ctx.Context())
			if !ok && engine != nil {
				state := engine.State()
				if state.Kind == StateActive && state.Session != nil && ownsState(ctx, state, RequestIdentityID) {
					session, ok = state.Session, true
				}
			}
			if !ok {
				return errHandler(ctx, ErrNoSession)
			}
			if !CanWrite(session.ActiveRole, section) {
				clone := ErrWriteForbidden.Clone()
				if clone == nil {
					return errHandler(ctx, ErrWriteForbidden)
				}
				clone.Source = ErrWriteForbidden
				return errHandler(ctx, clone.WithMetadata(map[string]any{
					"section":   string(section),
					"role":      string(session.ActiveRole),
					"tenant_id": session.ActiveTenantID,
				}))
			}
			return next(ctx)
		}
	}
}

// RequirePlatformAdmin lets a request through only when the engine state
// belongs to the request identity and was resolved as platform administrator.
func RequirePlatformAdmin(engine SessionStateReader, handler ...router.ErrorHandler) router.MiddlewareFunc {
	errHandler := func(ctx router.Context, err error) error {
		return RespondError(ctx, defaultLogger(), err)
	}
	if len(handler) > 0 && handler[0] != nil {
		errHandler = handler[0]
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			state := engine.State()
			if state.Identity == nil || !ownsState(ctx, state, RequestIdentityID) {
				return errHandler(ctx, ErrNoSession)
			}
			if !state.PlatformAdmin {
				return errHandler(ctx, ErrPlatformAdminRequired)
			}
			return next(ctx)
		}
	}
}
