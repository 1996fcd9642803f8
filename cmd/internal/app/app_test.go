package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/cmd/security/token"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setTestEnv pins every variable New reads so the host environment cannot
// leak into the test.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEHOUSE_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("GATEHOUSE_AUTH_TOKEN_FORMAT", "paseto")
	t.Setenv("GATEHOUSE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("GATEHOUSE_ARGON2_ITERATIONS", "1")
	t.Setenv("GATEHOUSE_ARGON2_PARALLELISM", "1")
	t.Setenv(token.HMACEnvKey, "")
}

func newTestApp(t *testing.T, mutate ...func(*Config)) *App {
	t.Helper()
	setTestEnv(t)

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func serveJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestApp_HealthAndReadiness(t *testing.T) {
	a := newTestApp(t)

	rr := serveJSON(t, a.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = serveJSON(t, a.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })

	rr := serveJSON(t, a.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_RegisterLoginMetrics(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	rr := serveJSON(t, h, http.MethodPost, "/admin", map[string]string{
		"email": "ops@example.com", "password": "correct-horse", "name": "Ops",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = serveJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email": "ops@example.com", "password": "correct-horse", "transport": "body",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var login struct {
		Session struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	require.True(t, strings.HasPrefix(login.Session.AccessToken, "v4.public."))
	require.NotEmpty(t, login.Session.RefreshToken)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Session.AccessToken)
	me := httptest.NewRecorder()
	h.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)

	// No roles yet, so the admin listing is forbidden.
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+login.Session.AccessToken)
	list := httptest.NewRecorder()
	h.ServeHTTP(list, req)
	require.Equal(t, http.StatusForbidden, list.Code)

	rr = serveJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `gatehouse_auth_operations_total{op="login",outcome="ok"} 1`)
	assert.Contains(t, body, `gatehouse_authz_decisions_total{decision="deny",requirement="admin:read"} 1`)
	assert.Contains(t, body, `gatehouse_http_requests_total{class="2xx",method="POST",route="/auth/login"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestApp_RedisCredentialStore(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestApp(t, func(c *Config) {
		c.CredentialStore = StoreRedis
		c.RedisAddr = mr.Addr()
		c.RedisPrefix = "it:"
	})
	h := a.Handler()

	require.Equal(t, http.StatusCreated, serveJSON(t, h, http.MethodPost, "/admin", map[string]string{
		"email": "r@example.com", "password": "correct-horse", "name": "R",
	}).Code)
	require.Equal(t, http.StatusOK, serveJSON(t, h, http.MethodPost, "/auth/login", map[string]string{
		"email": "r@example.com", "password": "correct-horse",
	}).Code)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "it:"), k)
	}

	require.Equal(t, http.StatusOK, serveJSON(t, h, http.MethodGet, "/readyz", nil).Code)
	mr.Close()
	require.Equal(t, http.StatusServiceUnavailable, serveJSON(t, h, http.MethodGet, "/readyz", nil).Code)
}

func TestNew_RedisUnreachable(t *testing.T) {
	setTestEnv(t)
	cfg := DefaultConfig()
	cfg.CredentialStore = StoreRedis
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, discardLogger())
	require.Error(t, err)
}

func TestNew_MissingSigningKey(t *testing.T) {
	setTestEnv(t)
	t.Setenv("GATEHOUSE_PASETO_V4_SECRET_KEY_HEX", "")

	_, err := New(context.Background(), DefaultConfig(), discardLogger())
	require.Error(t, err)
}

func TestKeyHasher_Policy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireTokenHMAC = true

	t.Setenv(token.HMACEnvKey, "")
	_, err := keyHasher(cfg)
	require.ErrorIs(t, err, ErrConfig)

	t.Setenv(token.HMACEnvKey, "short")
	_, err = keyHasher(cfg)
	require.ErrorIs(t, err, ErrConfig)

	t.Setenv(token.HMACEnvKey, strings.Repeat("k", token.MinHMACKeyBytes))
	h, err := keyHasher(cfg)
	require.NoError(t, err)
	assert.True(t, h.Keyed())

	cfg.RequireTokenHMAC = false
	t.Setenv(token.HMACEnvKey, "")
	h, err = keyHasher(cfg)
	require.NoError(t, err)
	assert.False(t, h.Keyed())
}

func TestApp_ServeShutsDownOnCancel(t *testing.T) {
	a := newTestApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
