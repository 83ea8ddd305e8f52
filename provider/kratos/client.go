package kratos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	tenancy "github.com/goliatone/go-tenancy"
	kratos "github.com/ory/kratos-client-go"
)

var _ tenancy.IdentityClient = (*Client)(nil)

// ErrAuthFailed is returned when Kratos rejects the credentials or token.
var ErrAuthFailed = goerrors.New("kratos authentication failed", goerrors.CategoryAuth).
	WithTextCode("KRATOS_AUTH_FAILED").
	WithCode(goerrors.CodeUnauthorized)

// ErrNoSessionToken is returned by operations needing a signed-in client.
var ErrNoSessionToken = goerrors.New("kratos session token missing", goerrors.CategoryAuth).
	WithTextCode("KRATOS_NO_SESSION_TOKEN").
	WithCode(goerrors.CodeUnauthorized)

// StatusError carries the HTTP status of a failed Kratos call.
type StatusError struct {
	Status int
	Op     string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("kratos %s unavailable: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kratos %s returned status %d: %v", e.Op, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status, 503 when no response was received.
func (e *StatusError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusServiceUnavailable
	}
	return e.Status
}

// Config configures the Kratos client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client implements tenancy.IdentityClient on the Kratos public API using
// native flows and a session token. Identity changes are detected on
// sign-in, sign-out and by polling whoami.
type Client struct {
	api      *kratos.APIClient
	config   Config
	logger   tenancy.Logger
	interval time.Duration

	mu       sync.Mutex
	token    string
	current  *tenancy.Identity
	subs     map[int]func(*tenancy.Identity)
	nextSub  int
	stopPoll context.CancelFunc
}

// Option customizes the client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(logger tenancy.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSessionToken resumes an existing Kratos session.
func WithSessionToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient builds a client for the Kratos public API at cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{URL: strings.TrimRight(cfg.BaseURL, "/")},
	}
	if cfg.HTTPClient != nil {
		configuration.HTTPClient = cfg.HTTPClient
	} else {
		configuration.HTTPClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	c := &Client{
		api:      kratos.NewAPIClient(configuration),
		config:   cfg,
		interval: cfg.PollInterval,
		subs:     map[int]func(*tenancy.Identity){},
	}
	_, c.logger = tenancy.ResolveLogger("tenancy.kratos", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Subscribe implements tenancy.IdentityClient. The current identity, when
// known, is delivered right away.
func (c *Client) Subscribe(onChange func(*tenancy.Identity)) func() {
	if onChange == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = onChange
	current := copyIdentity(c.current)
	if c.stopPoll == nil && c.interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopPoll = cancel
		go c.poll(ctx)
	}
	c.mu.Unlock()

	if current != nil {
		onChange(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			if len(c.subs) == 0 && c.stopPoll != nil {
				c.stopPoll()
				c.stopPoll = nil
			}
			c.mu.Unlock()
		})
	}
}

func (c *Client) poll(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrNoSessionToken) {
				c.logger.Warn("kratos session poll failed", "error", err)
			}
		}
	}
}

// Refresh checks the current session token against whoami and emits a
// change when the identity differs. An expired session emits nil.
func (c *Client) Refresh(ctx context.Context) (*tenancy.Identity, error) {
	token := c.sessionToken()
	if token == "" {
		return nil, ErrNoSessionToken
	}

	session, resp, err := c.api.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		err = mapError("whoami", resp, err)
		if errors.Is(err, ErrAuthFailed) {
			c.setSession("", nil)
		}
		return nil, err
	}

	if session.Active != nil && !*session.Active {
		c.setSession("", nil)
		return nil, nil
	}

	identity := identityFromSession(session)
	c.setSession(token, identity)
	return copyIdentity(identity), nil
}

// SignInWithPassword runs the native password login flow.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*tenancy.Identity, error) {
	flow, resp, err := c.api.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, mapError("login flow create", resp, err)
	}

	method := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Password:   password,
		Method:     "password",
	}

	result, resp, err := c.api.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&method)).
		Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return nil, ErrAuthFailed
		}
		return nil, mapError("login flow submit", resp, err)
	}

	session := result.GetSession()
	identity := identityFromSession(&session)
	if identity == nil {
		return nil, ErrAuthFailed
	}

	c.logger.Info("kratos password sign in", "user_id", identity.ID)
	c.setSession(result.GetSessionToken(), identity)
	return copyIdentity(identity), nil
}

// SignInWithProvider starts a browser login flow and returns the URL the
// browser must post the provider choice to.
func (c *Client) SignInWithProvider(ctx context.Context, provider string) (string, error) {
	flow, resp, err := c.api.FrontendAPI.CreateBrowserLoginFlow(ctx).Execute()
	if err != nil {
		return "", mapError("browser login flow create", resp, err)
	}

	action := flow.Ui.Action
	if provider == "" {
		return action, nil
	}
	sep := "?"
	if strings.Contains(action, "?") {
		sep = "&"
	}
	return action + sep + "provider=" + provider, nil
}

// Register runs the native registration flow. When Kratos issues a session
// on registration the client becomes signed in.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (*tenancy.Identity, error) {
	flow, resp, err := c.api.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, mapError("registration flow create", resp, err)
	}

	traits := map[string]interface{}{"email": email}
	if displayName != "" {
		traits["name"] = displayName
	}
	method := kratos.UpdateRegistrationFlowWithPasswordMethod{
		Traits:   traits,
		Password: password,
		Method:   "password",
	}

	result, resp, err := c.api.FrontendAPI.
		UpdateRegistrationFlow(ctx).
		Flow(flow.Id).
		UpdateRegistrationFlowBody(kratos.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&method)).
		Execute()
	if err != nil {
		return nil, mapError("registration flow submit", resp, err)
	}

	identity := identityFromKratos(&result.Identity)
	if identity == nil {
		return nil, ErrAuthFailed
	}
	if identity.DisplayName == "" {
		identity.DisplayName = displayName
	}

	if token := result.GetSessionToken(); token != "" {
		c.setSession(token, identity)
	}
	c.logger.Info("kratos registration", "user_id", identity.ID)
	return copyIdentity(identity), nil
}

// SignOut revokes the session token and emits nil to subscribers.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.sessionToken()
	if token == "" {
		c.setSession("", nil)
		return nil
	}

	resp, err := c.api.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(kratos.PerformNativeLogoutBody{SessionToken: token}).
		Execute()
	if err != nil {
		mapped := mapError("logout", resp, err)
		if !errors.Is(mapped, ErrAuthFailed) {
			return mapped
		}
	}

	c.setSession("", nil)
	return nil
}

// SessionToken returns the current Kratos session token.
func (c *Client) SessionToken() string {
	return c.sessionToken()
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// setSession stores the token and notifies subscribers when the identity
// changed.
func (c *Client) setSession(token string, identity *tenancy.Identity) {
	c.mu.Lock()
	c.token = token
	changed := !sameIdentity(c.current, identity)
	c.current = copyIdentity(identity)
	subs := make([]func(*tenancy.Identity), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(copyIdentity(identity))
	}
}

func identityFromSession(session *kratos.Session) *tenancy.Identity {
	if session == nil || session.Identity == nil {
		return nil
	}
	return identityFromKratos(session.Identity)
}

func identityFromKratos(identity *kratos.Identity) *tenancy.Identity {
	if identity == nil || identity.Id == "" {
		return nil
	}

	out := &tenancy.Identity{ID: identity.Id}
	if traits, ok := identity.Traits.(map[string]interface{}); ok {
		if email, ok := traits["email"].(string); ok {
			out.Email = email
		}
		switch name := traits["name"].(type) {
		case string:
			out.DisplayName = name
		case map[string]interface{}:
			first, _ := name["first"].(string)
			last, _ := name["last"].(string)
			out.DisplayName = strings.TrimSpace(first + " " + last)
		}
	}
	return out.Normalize()
}

func mapError(op string, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			clone := ErrAuthFailed.Clone()
			if clone == nil {
				return ErrAuthFailed
			}
			clone.Source = ErrAuthFailed
			return clone.WithMetadata(map[string]any{
				"operation": op,
				"status":    resp.StatusCode,
				"cause":     err.Error(),
			})
		}
		return &StatusError{Status: resp.StatusCode, Op: op, Err: err}
	}
	return &StatusError{Op: op, Err: err}
}

func copyIdentity(identity *tenancy.Identity) *tenancy.Identity {
	if identity == nil {
		return nil
	}
	out := *identity
	return &out
}

func sameIdentity(a, b *tenancy.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
