package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// TokenFormat selects the access-token codec.
type TokenFormat string

const (
	FormatPasetoV4 TokenFormat = "paseto"
	FormatJWT      TokenFormat = "jwt"
)

// Config is the runtime configuration for the session subsystem.
type Config struct {
	// Issuer is set as the "iss" claim and required on verification.
	Issuer string `envconfig:"AUTH_ISSUER" default:"gatehouse"`

	AccessTokenTTL time.Duration `envconfig:"AUTH_ACCESS_TTL" default:"15m"`
	RefreshTTL     time.Duration `envconfig:"AUTH_REFRESH_TTL" default:"168h"`

	// RefreshTokenBytes is the entropy of opaque refresh identifiers.
	RefreshTokenBytes int `envconfig:"AUTH_REFRESH_TOKEN_BYTES" default:"32"`

	TokenFormat TokenFormat `envconfig:"AUTH_TOKEN_FORMAT" default:"paseto"`

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for v4.public.
	PasetoV4SecretKeyHex string `envconfig:"PASETO_V4_SECRET_KEY_HEX"`

	// JWTSecret is the HS256 key used when TokenFormat is "jwt".
	JWTSecret string `envconfig:"JWT_SECRET"`

	// SweepInterval enables the background expired-credential sweep when > 0.
	SweepInterval time.Duration `envconfig:"AUTH_SWEEP_INTERVAL" default:"0s"`
}

// DefaultConfig returns the defaults without any signing key.
func DefaultConfig() Config {
	return Config{
		Issuer:            "gatehouse",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		RefreshTokenBytes: 32,
		TokenFormat:       FormatPasetoV4,
	}
}

// LoadConfigFromEnv reads GATEHOUSE_AUTH_*, GATEHOUSE_PASETO_V4_SECRET_KEY_HEX
// and GATEHOUSE_JWT_SECRET. The key for the selected format is required.
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("GATEHOUSE", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that the selected codec has a key.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer is empty", ErrConfig)
	case c.AccessTokenTTL <= 0:
		return fmt.Errorf("%w: access ttl must be positive", ErrConfig)
	case c.RefreshTTL <= c.AccessTokenTTL:
		return fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrConfig)
	case c.RefreshTokenBytes < 16 || c.RefreshTokenBytes > 64:
		return fmt.Errorf("%w: refresh token bytes out of range [16..64]", ErrConfig)
	case c.SweepInterval < 0:
		return fmt.Errorf("%w: sweep interval is negative", ErrConfig)
	}

	switch c.TokenFormat {
	case FormatPasetoV4:
		if c.PasetoV4SecretKeyHex == "" {
			return fmt.Errorf("%w: paseto secret key is required", ErrConfig)
		}
	case FormatJWT:
		if len(c.JWTSecret) < minJWTSecretBytes {
			return fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrConfig, minJWTSecretBytes)
		}
	default:
		return fmt.Errorf("%w: unknown token format %q", ErrConfig, c.TokenFormat)
	}
	return nil
}
