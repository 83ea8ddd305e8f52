package tokenware

import (
	"errors"
	"strings"

	"github.com/goliatone/go-router"
	tenancy "github.com/goliatone/go-tenancy"
)

var (
	defaultTokenLookup         = "header:" + router.HeaderAuthorization
	ErrTokenMissingOrMalformed = errors.New("missing or malformed bearer token")
)

// IdentitySink accepts raw bearer tokens and returns the identity they carry.
// provider/token.Client satisfies it.
type IdentitySink interface {
	Push(raw string) (*tenancy.Identity, error)
	Identify(raw string) (*tenancy.Identity, error)
	Token() string
}

// Config configures the bearer token middleware.
type Config struct {
	Filter       func(router.Context) bool
	ErrorHandler router.ErrorHandler
	Sink         IdentitySink
	// ContextKey is the router locals key for the request identity.
	ContextKey  string
	TokenLookup string
	AuthScheme  string
	// Optional lets requests without a token through untouched.
	Optional bool
	Logger   tenancy.Logger
}

// New returns a middleware that extracts a bearer token and pushes it into
// the identity sink, so the tenancy engine follows the caller's identity.
// Tokens equal to the one already held are only verified. Every accepted
// request carries its identity in the router locals.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil {
				if cfg.Optional {
					return next(ctx)
				}
				return cfg.ErrorHandler(ctx, err)
			}

			identify := cfg.Sink.Identify
			if raw != cfg.Sink.Token() {
				identify = cfg.Sink.Push
			}

			identity, err := identify(raw)
			if err != nil {
				cfg.Logger.Warn("bearer token rejected", "error", err)
				return cfg.ErrorHandler(ctx, err)
			}
			ctx.Locals(cfg.ContextKey, identity)

			return next(ctx)
		}
	}
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	raw, err := "", ErrTokenMissingOrMalformed
	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}
	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Sink == nil {
		panic("tokenware: Sink is required")
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if errors.Is(err, ErrTokenMissingOrMalformed) {
				return c.Status(router.StatusBadRequest).SendString(ErrTokenMissingOrMalformed.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = tenancy.DefaultIdentityLocalsKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	_, cfg.Logger = tenancy.ResolveLogger("tenancy.tokenware", nil, cfg.Logger)

	return cfg
}

type TokenExtractor func(c router.Context) (string, error)

// GetExtractors parses a lookup such as
// "header:Authorization,query:token,param:token,cookie:jwt".
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(rootPart), ":")
		if !ok {
			continue
		}
		source, name = strings.TrimSpace(source), strings.TrimSpace(name)

		switch source {
		case "header":
			extractors = append(extractors, tokenFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(name))
		case "param":
			extractors = append(extractors, tokenFromParam(name))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(name))
		}
	}

	return extractors
}

func tokenFromHeader(header string, authScheme string) TokenExtractor {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			return "", ErrTokenMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromParam(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// IdentityFromContext returns the identity of this request, if any.
func IdentityFromContext(ctx router.Context, key string) (*tenancy.Identity, bool) {
	return tenancy.IdentityFromRouter(ctx, key)
}
