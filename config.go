package tenancy

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the runtime settings of the tenancy engine and its adapters.
type Config struct {
	LogLevel          string        `env:"TENANCY_LOG_LEVEL" envDefault:"info"`
	InactivityTimeout time.Duration `env:"TENANCY_INACTIVITY_TIMEOUT" envDefault:"30m"`
	SignOutTimeout    time.Duration `env:"TENANCY_SIGN_OUT_TIMEOUT" envDefault:"10s"`
	DefaultRole       string        `env:"TENANCY_DEFAULT_ROLE" envDefault:"owner"`

	KratosURL          string        `env:"KRATOS_PUBLIC_URL" envDefault:"http://localhost:4433"`
	KratosPollInterval time.Duration `env:"KRATOS_POLL_INTERVAL" envDefault:"30s"`
	KratosTimeout      time.Duration `env:"KRATOS_TIMEOUT" envDefault:"5s"`

	JWKSURL       string        `env:"TENANCY_JWKS_URL"`
	JWTIssuer     string        `env:"TENANCY_JWT_ISSUER"`
	JWTAudience   string        `env:"TENANCY_JWT_AUDIENCE"`
	JWKSRefresh   time.Duration `env:"TENANCY_JWKS_REFRESH" envDefault:"1h"`
	JWTSigningKey string        `env:"TENANCY_JWT_SIGNING_KEY"`

	DatabaseDriver      string        `env:"TENANCY_DATABASE_DRIVER" envDefault:"sqlite3"`
	DatabaseDSN         string        `env:"TENANCY_DATABASE_DSN" envDefault:"file:tenancy.db?cache=shared"`
	DatabaseDebug       bool          `env:"TENANCY_DATABASE_DEBUG"`
	DatabasePingTimeout time.Duration `env:"TENANCY_DATABASE_PING_TIMEOUT" envDefault:"5s"`
	// DatabaseSeed truncates the tables and loads the bundled fixtures.
	DatabaseSeed bool `env:"TENANCY_DATABASE_SEED"`

	RedisAddr   string `env:"TENANCY_REDIS_ADDR"`
	RedisPrefix string `env:"TENANCY_REDIS_PREFIX" envDefault:"tenancy:"`

	HTTPAddr       string `env:"TENANCY_HTTP_ADDR" envDefault:":8080"`
	MetricsEnabled bool   `env:"TENANCY_METRICS_ENABLED" envDefault:"true"`
	MetricsAddr    string `env:"TENANCY_METRICS_ADDR" envDefault:":9090"`
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Role returns the configured default role, falling back to owner.
func (c *Config) Role() Role {
	if c == nil {
		return RoleOwner
	}
	if role, ok := ParseRole(c.DefaultRole); ok {
		return role
	}
	return RoleOwner
}

// EngineOptions translates the config into engine options.
func (c *Config) EngineOptions() []EngineOption {
	if c == nil {
		return nil
	}
	return []EngineOption{
		WithResolverOptions(WithDefaultRole(c.Role())),
		WithGuardOptions(
			WithInactivityTimeout(c.InactivityTimeout),
			WithSignOutTimeout(c.SignOutTimeout),
		),
	}
}

// PersistenceConfig is the database client configuration.
type PersistenceConfig struct {
	Driver      string
	Server      string
	Debug       bool
	PingTimeout time.Duration
}

func (p PersistenceConfig) GetDebug() bool                { return p.Debug }
func (p PersistenceConfig) GetDriver() string             { return p.Driver }
func (p PersistenceConfig) GetServer() string             { return p.Server }
func (p PersistenceConfig) GetPingTimeout() time.Duration { return p.PingTimeout }
func (p PersistenceConfig) GetOtelIdentifier() string     { return "" }

// Persistence returns the database client configuration.
func (c *Config) Persistence() PersistenceConfig {
	if c == nil {
		return PersistenceConfig{}
	}
	return PersistenceConfig{
		Driver:      c.DatabaseDriver,
		Server:      c.DatabaseDSN,
		Debug:       c.DatabaseDebug,
		PingTimeout: c.DatabasePingTimeout,
	}
}
