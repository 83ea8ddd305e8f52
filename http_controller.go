package tenancy

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// SessionEngine is the engine surface used by the HTTP controller.
type SessionEngine interface {
	State() State
	IsolationReport() IsolationReport
	SelectTenant(ctx context.Context, tenantID string) bool
	DeselectTenant(ctx context.Context)
	CanWrite(section Section) bool
	Touch(signal ActivitySignal) bool
	ClearOnboardingError()
	SignOut(ctx context.Context) error
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	SignInWithProvider(ctx context.Context, provider string) (string, error)
	Register(ctx context.Context, email, password, displayName string) (*Identity, error)
}

func RegisterSessionRoutes[T any](app router.Router[T], opts ...SessionControllerOption) *SessionController {
	controller := NewSessionController(opts...)
	r := controller.Routes

	app.Get(r.Session, controller.ShowSession).
		SetName("session.get")
	app.Get(r.Session+"/isolation", controller.ShowIsolation).
		SetName("session.isolation.get")
	app.Get(r.Session+"/can-write/:section", controller.CanWrite).
		SetName("session.can-write.get")

	app.Post(r.Session+"/tenant/:tenant_id", controller.SelectTenant).
		SetName("session.tenant.post")
	app.Delete(r.Session+"/tenant", controller.DeselectTenant).
		SetName("session.tenant.delete")

	app.Post(r.Session+"/activity/:signal", controller.Touch).
		SetName("session.activity.post")
	app.Delete(r.Session+"/onboarding-error", controller.ClearOnboardingError).
		SetName("session.onboarding-error.delete")

	app.Post(r.SignIn, controller.SignIn).
		SetName("session.sign-in.post")
	app.Get(r.SignIn+"/:provider", controller.SignInWithProvider).
		SetName("session.sign-in-provider.get")
	app.Post(r.Register, controller.Register).
		SetName("session.register.post")
	app.Post(r.SignOut, controller.SignOut).
		SetName("session.sign-out.post")

	return controller
}

type SessionControllerRoutes struct {
	Session  string
	SignIn   string
	SignOut  string
	Register string
}

type SessionController struct {
	Debug        bool
	Logger       Logger
	Engine       SessionEngine
	Routes       *SessionControllerRoutes
	ErrorHandler router.ErrorHandler
	// RequestIdentity gates the session routes: a request may only see or
	// change the engine state when it was authenticated as the identity
	// that state belongs to.
	RequestIdentity func(router.Context) (string, bool)
	// SessionToken, when set, adds the provider session token to sign-in
	// and registration responses so callers can authenticate later requests.
	SessionToken func() string
}

type SessionControllerOption func(*SessionController) *SessionController

// WithControllerEngine sets the engine served by the controller.
func WithControllerEngine(engine SessionEngine) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Engine = engine
		return c
	}
}

// WithControllerLogger overrides the logger.
func WithControllerLogger(logger Logger) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerRequestIdentity overrides how the request identity is read.
func WithControllerRequestIdentity(lookup func(router.Context) (string, bool)) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if lookup != nil {
			c.RequestIdentity = lookup
		}
		return c
	}
}

// WithControllerSessionToken exposes the provider session token on sign-in.
func WithControllerSessionToken(token func() string) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.SessionToken = token
		return c
	}
}

// WithControllerDebug dumps payloads to the log.
func WithControllerDebug(debug bool) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Debug = debug
		return c
	}
}

// WithControllerRoutes overrides the route paths.
func WithControllerRoutes(routes SessionControllerRoutes) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if routes.Session != "" {
			c.Routes.Session = routes.Session
		}
		if routes.SignIn != "" {
			c.Routes.SignIn = routes.SignIn
		}
		if routes.SignOut != "" {
			c.Routes.SignOut = routes.SignOut
		}
		if routes.Register != "" {
			c.Routes.Register = routes.Register
		}
		return c
	}
}

func NewSessionController(opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger:          defaultLogger(),
		RequestIdentity: RequestIdentityID,
		Routes: &SessionControllerRoutes{
			Session:  "/session",
			SignIn:   "/session/sign-in",
			SignOut:  "/session/sign-out",
			Register: "/session/register",
		},
	}
	c.ErrorHandler = c.defaultErrHandler

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Engine == nil {
		panic("Missing SessionEngine in session controller...")
	}

	return c
}

type onboardingView struct {
	Reason   OnboardingReason `json:"reason"`
	Message  string           `json:"message"`
	TextCode string           `json:"text_code"`
	Category string           `json:"category"`
	Code     int              `json:"code"`
}

type stateView struct {
	State         StateKind       `json:"state"`
	Identity      *Identity       `json:"identity,omitempty"`
	Session       *Session        `json:"session,omitempty"`
	PlatformAdmin bool            `json:"platform_admin"`
	Onboarding    *onboardingView `json:"onboarding_error,omitempty"`
}

func newStateView(s State) stateView {
	view := stateView{
		State:         s.Kind,
		Identity:      s.Identity,
		Session:       s.Session,
		PlatformAdmin: s.PlatformAdmin,
	}
	if rich := s.OnboardingError.ToRichError(); rich != nil {
		view.Onboarding = &onboardingView{
			Reason:   s.OnboardingError.Reason,
			Message:  rich.Message,
			TextCode: rich.TextCode,
			Category: string(rich.Category),
			Code:     rich.Code,
		}
	}
	return view
}

// engineFor returns the engine when its state belongs to the request
// identity.
func (c *SessionController) engineFor(ctx router.Context) (SessionEngine, bool) {
	if c.RequestIdentity == nil {
		return c.Engine, true
	}
	if !ownsState(ctx, c.Engine.State(), c.RequestIdentity) {
		c.Logger.Debug("session route rejected, request identity does not own the session")
		return nil, false
	}
	return c.Engine, true
}

func (c *SessionController) ShowSession(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	return ctx.JSON(router.StatusOK, newStateView(engine.State()))
}

func (c *SessionController) ShowIsolation(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	return ctx.JSON(router.StatusOK, engine.IsolationReport())
}

func (c *SessionController) CanWrite(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	section := Section(ctx.Param("section"))
	return ctx.JSON(router.StatusOK, map[string]any{
		"section":   section,
		"can_write": engine.CanWrite(section),
	})
}

// SelectTenant never reports a rejected switch as an error; the response
// carries the unchanged state instead.
func (c *SessionController) SelectTenant(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	tenantID := ctx.Param("tenant_id")
	selected := engine.SelectTenant(ctx.Context(), tenantID)
	return ctx.JSON(router.StatusOK, map[string]any{
		"selected": selected,
		"session":  newStateView(engine.State()),
	})
}

func (c *SessionController) DeselectTenant(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	engine.DeselectTenant(ctx.Context())
	return ctx.JSON(router.StatusOK, newStateView(engine.State()))
}

func (c *SessionController) Touch(ctx router.Context) error {
	signal := ActivitySignal(ctx.Param("signal"))
	if !signal.IsValid() {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "unknown activity signal",
		})
	}
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"reset": engine.Touch(signal),
	})
}

func (c *SessionController) ClearOnboardingError(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	engine.ClearOnboardingError()
	return ctx.JSON(router.StatusOK, newStateView(engine.State()))
}

func (c *SessionController) SignOut(ctx router.Context) error {
	engine, ok := c.engineFor(ctx)
	if !ok {
		return c.ErrorHandler(ctx, ErrNoSession)
	}
	if err := engine.SignOut(ctx.Context()); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, newStateView(engine.State()))
}

func (c *SessionController) signedIn(identity *Identity) map[string]any {
	body := map[string]any{
		"identity": identity,
	}
	if c.SessionToken != nil {
		body["session_token"] = c.SessionToken()
	}
	return body
}

// SignInRequest payload
type SignInRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (c *SessionController) SignIn(ctx router.Context) error {
	payload := new(SignInRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": err,
		})
	}

	identity, err := c.Engine.SignInWithPassword(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, c.signedIn(identity))
}

func (c *SessionController) SignInWithProvider(ctx router.Context) error {
	redirect, err := c.Engine.SignInWithProvider(ctx.Context(), ctx.Param("provider"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{
		"redirect_url": redirect,
	})
}

// RegistrationRequest payload
type RegistrationRequest struct {
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	DisplayName string `form:"display_name" json:"display_name"`
}

// Validate will run validation rules
func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0)),
		validation.Field(&r.DisplayName, validation.Length(0, 120)),
	)
}

func (c *SessionController) Register(ctx router.Context) error {
	payload := new(RegistrationRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": err,
		})
	}

	if c.Debug {
		c.Logger.Debug("registration payload", "email", payload.Email, "display_name", payload.DisplayName)
	}

	identity, err := c.Engine.Register(ctx.Context(), payload.Email, payload.Password, payload.DisplayName)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, c.signedIn(identity))
}

func (c *SessionController) defaultErrHandler(ctx router.Context, err error) error {
	return RespondError(ctx, c.Logger, err)
}

// RespondError writes err as a JSON error body using its rich error code.
// Errors without one are reported as internal errors.
func RespondError(ctx router.Context, logger Logger, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	logger.Info(
		"tenancy http error",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	code := richErr.Code
	if code == 0 {
		code = router.StatusInternalServerError
	}

	return ctx.JSON(code, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}
