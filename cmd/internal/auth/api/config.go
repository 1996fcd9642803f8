package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrConfig is returned for invalid transport configuration.
var ErrConfig = errors.New("authapi: invalid config")

// Config controls the HTTP transport of the session engine.
type Config struct {
	// TrustProxy keys rate limits on X-Forwarded-For / X-Real-IP instead of
	// the socket address.
	TrustProxy   bool  `envconfig:"AUTH_TRUST_PROXY" default:"false"`
	MaxBodyBytes int64 `envconfig:"AUTH_MAX_BODY_BYTES" default:"1048576"`

	LoginIPMax      int           `envconfig:"AUTH_LOGIN_IP_MAX" default:"20"`
	LoginIPWindow   time.Duration `envconfig:"AUTH_LOGIN_IP_WINDOW" default:"5m"`
	RefreshIPMax    int           `envconfig:"AUTH_REFRESH_IP_MAX" default:"60"`
	RefreshIPWindow time.Duration `envconfig:"AUTH_REFRESH_IP_WINDOW" default:"1m"`

	RefreshCookieName string `envconfig:"AUTH_REFRESH_COOKIE_NAME" default:"refresh_token"`
	AccessCookieName  string `envconfig:"AUTH_ACCESS_COOKIE_NAME" default:"access_token"`
	CookiePath        string `envconfig:"AUTH_COOKIE_PATH" default:"/"`
	CookieDomain      string `envconfig:"AUTH_COOKIE_DOMAIN"`
	CookieSecure      bool   `envconfig:"AUTH_COOKIE_SECURE" default:"true"`
	CookieSameSite    string `envconfig:"AUTH_COOKIE_SAMESITE" default:"lax"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		LoginIPMax:        20,
		LoginIPWindow:     5 * time.Minute,
		RefreshIPMax:      60,
		RefreshIPWindow:   time.Minute,
		RefreshCookieName: "refresh_token",
		AccessCookieName:  "access_token",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    "lax",
	}
}

// LoadConfigFromEnv reads GATEHOUSE_AUTH_* transport settings.
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

// Validate checks limits and cookie guardrails.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	case c.LoginIPMax <= 0 || c.LoginIPWindow <= 0:
		return fmt.Errorf("%w: login rate limit must be positive", ErrConfig)
	case c.RefreshIPMax <= 0 || c.RefreshIPWindow <= 0:
		return fmt.Errorf("%w: refresh rate limit must be positive", ErrConfig)
	case strings.TrimSpace(c.RefreshCookieName) == "" || strings.TrimSpace(c.AccessCookieName) == "":
		return fmt.Errorf("%w: cookie names are required", ErrConfig)
	case c.RefreshCookieName == c.AccessCookieName:
		return fmt.Errorf("%w: access and refresh cookies must differ", ErrConfig)
	case parseSameSite(c.CookieSameSite) == http.SameSiteNoneMode && !c.CookieSecure:
		return fmt.Errorf("%w: SameSite=None requires Secure cookies", ErrConfig)
	}
	return nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
