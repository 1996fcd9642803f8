// Package main is a CI-friendly smoke test for a running gatehouse server.
//
// It validates:
//   - registration (or an existing account)
//   - login with the refresh credential in the body
//   - /auth/me with the access token
//   - refresh rotation and replay rejection
//   - logout and refresh-after-logout rejection
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type smokeClient struct {
	base    string
	http    *http.Client
	verbose bool
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		email    = flag.String("email", fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano()), "Account email")
		password = flag.String("password", "smoke-password-1", "Account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{Timeout: *timeout},
		verbose: *verbose,
	}
	ctx := context.Background()

	status, _ := c.do(ctx, http.MethodPost, "/admin", "", map[string]string{
		"email": *email, "password": *password, "name": "Smoke",
	})
	if status != http.StatusCreated && status != http.StatusConflict {
		fatalf("register: unexpected status %d", status)
	}

	first := c.mustLogin(ctx, *email, *password)
	c.mustMe(ctx, first.AccessToken, *email)

	second := c.mustRefresh(ctx, first.RefreshToken)
	if second.RefreshToken == first.RefreshToken {
		fatalf("refresh: credential was not rotated")
	}
	c.mustReject(ctx, "/auth/refresh", first.RefreshToken, "invalid_refresh_token")

	if status, body := c.do(ctx, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": second.RefreshToken}); status != http.StatusNoContent {
		fatalf("logout: status %d body %s", status, body)
	}
	c.mustReject(ctx, "/auth/refresh", second.RefreshToken, "invalid_refresh_token")

	fmt.Println("OK: auth smoke passed")
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func (c *smokeClient) mustLogin(ctx context.Context, email, password string) session {
	status, body := c.do(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"email": email, "password": password, "transport": "body",
	})
	if status != http.StatusOK {
		fatalf("login: status %d body %s", status, body)
	}
	var out struct {
		Session session `json:"session"`
	}
	mustDecode("login", body, &out)
	if out.Session.AccessToken == "" || out.Session.RefreshToken == "" {
		fatalf("login: missing tokens in %s", body)
	}
	return out.Session
}

func (c *smokeClient) mustMe(ctx context.Context, accessToken, email string) {
	status, body := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil)
	if status != http.StatusOK {
		fatalf("me: status %d body %s", status, body)
	}
	var out struct {
		Email string `json:"email"`
	}
	mustDecode("me", body, &out)
	if !strings.EqualFold(out.Email, email) {
		fatalf("me: email %q want %q", out.Email, email)
	}
}

func (c *smokeClient) mustRefresh(ctx context.Context, refreshToken string) session {
	status, body := c.do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken})
	if status != http.StatusOK {
		fatalf("refresh: status %d body %s", status, body)
	}
	var out struct {
		Session session `json:"session"`
	}
	mustDecode("refresh", body, &out)
	return out.Session
}

func (c *smokeClient) mustReject(ctx context.Context, path, refreshToken, wantCode string) {
	status, body := c.do(ctx, http.MethodPost, path, "", map[string]string{"refresh_token": refreshToken})
	if status != http.StatusUnauthorized {
		fatalf("%s: expected 401, got %d body %s", path, status, body)
	}
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	mustDecode(path, body, &out)
	if out.Error.Code != wantCode {
		fatalf("%s: code %q want %q", path, out.Error.Code, wantCode)
	}
}

func (c *smokeClient) do(ctx context.Context, method, path, bearer string, payload any) (int, []byte) {
	var rdr io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			fatalf("%s %s: encode: %v", method, path, err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return resp.StatusCode, body
}

func mustDecode(step string, body []byte, dst any) {
	if err := json.Unmarshal(body, dst); err != nil {
		fatalf("%s: decode %s: %v", step, body, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
