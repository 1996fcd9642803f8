package authapi

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("env defaults drifted from DefaultConfig:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("GATEHOUSE_AUTH_LOGIN_IP_MAX", "3")
	t.Setenv("GATEHOUSE_AUTH_LOGIN_IP_WINDOW", "30s")
	t.Setenv("GATEHOUSE_AUTH_COOKIE_DOMAIN", "example.com")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.LoginIPMax != 3 || cfg.LoginIPWindow != 30*time.Second {
		t.Fatalf("login limit not applied: %d per %v", cfg.LoginIPMax, cfg.LoginIPWindow)
	}
	if cfg.CookieDomain != "example.com" {
		t.Fatalf("cookie domain = %q", cfg.CookieDomain)
	}
}

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("GATEHOUSE_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("GATEHOUSE_AUTH_COOKIE_SECURE", "false")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for SameSite=None without Secure, got %v", err)
	}
}

func TestConfigValidate_SameCookieNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccessCookieName = cfg.RefreshCookieName
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: " Lax ", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		got := parseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
