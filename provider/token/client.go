package token

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	tenancy "github.com/goliatone/go-tenancy"
	"github.com/goliatone/hashid"
)

var _ tenancy.IdentityClient = (*Client)(nil)

// ErrTokenInvalid is returned for malformed, expired or unverifiable tokens.
var ErrTokenInvalid = goerrors.New("identity token invalid", goerrors.CategoryAuth).
	WithTextCode("IDENTITY_TOKEN_INVALID").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnsupported is returned by interactive sign-in operations.
var ErrUnsupported = goerrors.New("operation not supported by token identity client", goerrors.CategoryBadInput).
	WithTextCode("IDENTITY_OPERATION_UNSUPPORTED").
	WithCode(goerrors.CodeBadRequest)

var ErrNoKeys = goerrors.New("token identity client requires a JWKS url or signing key", goerrors.CategoryInternal).
	WithTextCode("IDENTITY_NO_KEYS").
	WithCode(goerrors.CodeInternal)

// Claims are the identity claims read from the bearer token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Config configures token verification.
type Config struct {
	JWKSURL         string
	RefreshInterval time.Duration
	Issuer          string
	Audience        string
	// SigningKeys maps key ids to HMAC secrets, used when no JWKS is set.
	SigningKeys map[string][]byte
	Algorithm   string
}

// Client is an identity client fed with bearer tokens issued elsewhere, e.g.
// by an API gateway. Pushing a verified token signs the identity in; an
// expired or cleared token signs it out.
type Client struct {
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	config  Config
	logger  tenancy.Logger
	now     func() time.Time

	mu      sync.Mutex
	raw     string
	expires time.Time
	current *tenancy.Identity
	subs    map[int]func(*tenancy.Identity)
	nextSub int
}

// Option customizes the client.
type Option func(*Client)

// WithKeyfunc sets the key lookup directly.
func WithKeyfunc(kf jwt.Keyfunc) Option {
	return func(c *Client) {
		if kf != nil {
			c.keyfunc = kf
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger tenancy.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a token identity client. A JWKS url takes precedence
// over static signing keys.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}

	c := &Client{
		config: cfg,
		now:    time.Now,
		subs:   map[int]func(*tenancy.Identity){},
	}
	_, c.logger = tenancy.ResolveLogger("tenancy.token", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.keyfunc != nil {
		return c, nil
	}

	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, c.keyfuncOptions())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load JWKS").
				WithMetadata(map[string]any{"url": cfg.JWKSURL})
		}
		c.jwks = jwks
		c.keyfunc = jwks.Keyfunc
	case len(cfg.SigningKeys) > 0:
		given := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
		for kid, key := range cfg.SigningKeys {
			given[kid] = keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
				Algorithm: cfg.Algorithm,
			})
		}
		c.keyfunc = keyfunc.NewGiven(given).Keyfunc
	default:
		return nil, ErrNoKeys
	}

	return c, nil
}

func (c *Client) keyfuncOptions() keyfunc.Options {
	interval := c.config.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			c.logger.Warn("failed to refresh JWKS", "error", err)
		},
		RefreshInterval:   interval,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

// Close stops the background JWKS refresh.
func (c *Client) Close() {
	if c.jwks != nil {
		c.jwks.EndBackground()
	}
}

// Verify parses and validates raw without changing the signed-in identity.
func (c *Client) Verify(raw string) (*tenancy.Identity, *Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, nil, ErrTokenInvalid
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.config.Algorithm}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(c.config.Audience))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, c.keyfunc, parserOpts...); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryAuth, ErrTokenInvalid.Message).
			WithTextCode("IDENTITY_TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}

	identity, err := identityFromClaims(claims)
	if err != nil {
		return nil, nil, err
	}
	return identity, claims, nil
}

// Identify verifies raw and returns the identity it carries without
// signing it in.
func (c *Client) Identify(raw string) (*tenancy.Identity, error) {
	identity, _, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// Push verifies raw and signs its identity in. Subscribers are notified
// when the identity differs from the current one.
func (c *Client) Push(raw string) (*tenancy.Identity, error) {
	identity, claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}

	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	c.set(raw, expires, identity)
	return copyIdentity(identity), nil
}

// Check signs the identity out when the current token expired. It returns
// true while a valid token is held.
func (c *Client) Check() bool {
	c.mu.Lock()
	held := c.current != nil
	expired := held && !c.expires.IsZero() && !c.now().Before(c.expires)
	c.mu.Unlock()

	if expired {
		c.logger.Info("identity token expired")
		c.set("", time.Time{}, nil)
		return false
	}
	return held
}

// Token returns the raw token currently held.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// Subscribe implements tenancy.IdentityClient.
func (c *Client) Subscribe(onChange func(*tenancy.Identity)) func() {
	if onChange == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = onChange
	current := copyIdentity(c.current)
	c.mu.Unlock()

	if current != nil {
		onChange(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// SignOut drops the held token.
func (c *Client) SignOut(context.Context) error {
	c.set("", time.Time{}, nil)
	return nil
}

func (c *Client) SignInWithPassword(context.Context, string, string) (*tenancy.Identity, error) {
	return nil, unsupported("sign_in_with_password")
}

func (c *Client) SignInWithProvider(context.Context, string) (string, error) {
	return "", unsupported("sign_in_with_provider")
}

func (c *Client) Register(context.Context, string, string, string) (*tenancy.Identity, error) {
	return nil, unsupported("register")
}

func (c *Client) set(raw string, expires time.Time, identity *tenancy.Identity) {
	c.mu.Lock()
	c.raw = raw
	c.expires = expires
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

func identityFromClaims(claims *Claims) (*tenancy.Identity, error) {
	id := strings.TrimSpace(claims.Subject)
	if id == "" && claims.Email != "" {
		hashed, err := hashid.NewUUID(strings.ToLower(strings.TrimSpace(claims.Email)))
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive identity id")
		}
		id = hashed
	}

	identity := (&tenancy.Identity{
		ID:          id,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}).Normalize()
	if identity == nil {
		return nil, ErrTokenInvalid
	}
	return identity, nil
}

func unsupported(op string) error {
	clone := ErrUnsupported.Clone()
	if clone == nil {
		return ErrUnsupported
	}
	clone.Source = ErrUnsupported
	return clone.WithMetadata(map[string]any{"operation": op})
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
