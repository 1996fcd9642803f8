package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"gatehouse/cmd/internal/dbschema"
)

// ErrConfig marks invalid runtime configuration.
var ErrConfig = errors.New("invalid app config")

// Credential store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config contains the runtime configuration loaded from GATEHOUSE_*
// environment variables.
type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:"0.0.0.0:8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576"`

	// SSLRedirect sends plain-HTTP requests to HTTPS. Leave off behind a
	// TLS-terminating proxy that already does it.
	SSLRedirect bool `envconfig:"HTTP_SSL_REDIRECT" default:"false"`

	DatabaseURL    string `envconfig:"DATABASE_URL"`
	DatabaseSchema string `envconfig:"DATABASE_SCHEMA" default:"gatehouse"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns     int32  `envconfig:"DB_MIN_CONNS" default:"0"`
	DBMigrate      bool   `envconfig:"DB_MIGRATE" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX"`

	// CredentialStore selects where refresh credentials live. Empty picks
	// postgres when a database is configured and memory otherwise.
	CredentialStore string `envconfig:"CREDENTIAL_STORE"`

	// ReadinessRequireDB makes /readyz fail unless a database is configured
	// and reachable.
	ReadinessRequireDB bool `envconfig:"READINESS_REQUIRE_DB" default:"false"`

	// RequireTokenHMAC refuses to start without GATEHOUSE_TOKEN_HMAC_KEY.
	RequireTokenHMAC bool `envconfig:"REQUIRE_TOKEN_HMAC" default:"false"`
}

// DefaultConfig returns the values used when no variable is set.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "0.0.0.0:8080",
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		DatabaseSchema:    dbschema.DefaultSchema,
		DBMaxConns:        10,
	}
}

// LoadConfig reads and validates the runtime configuration.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("GATEHOUSE", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("%w: log format %q (want json, text or pretty)", ErrConfig, c.LogFormat)
	}
	if c.ReadHeaderTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: http timeouts must be positive", ErrConfig)
	}
	if c.MaxHeaderBytes <= 0 {
		return fmt.Errorf("%w: max header bytes must be positive", ErrConfig)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: db pool bounds min=%d max=%d", ErrConfig, c.DBMinConns, c.DBMaxConns)
	}
	if _, err := dbschema.SQL(c.DatabaseSchema); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	switch c.credentialStore() {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: credential store postgres requires GATEHOUSE_DATABASE_URL", ErrConfig)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: credential store redis requires GATEHOUSE_REDIS_ADDR", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown credential store %q", ErrConfig, c.CredentialStore)
	}
	return nil
}

func (c Config) credentialStore() string {
	s := strings.ToLower(strings.TrimSpace(c.CredentialStore))
	if s != "" {
		return s
	}
	if c.DatabaseURL != "" {
		return StorePostgres
	}
	return StoreMemory
}
