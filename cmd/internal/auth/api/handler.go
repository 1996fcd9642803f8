package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/authz"
)

// Handler exposes the session engine and the administrative operations
// over HTTP.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions   *session.Service
	principals *identity.Service
	gate       *authz.Gate
	validate   *validator.Validate
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	gateMetrics *authz.Metrics
}

// WithGateMetrics records authorization decisions on m.
func WithGateMetrics(m *authz.Metrics) HandlerOption {
	return func(o *handlerOptions) { o.gateMetrics = m }
}

// NewHandler wires a Handler. A nil logger falls back to slog.Default().
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, principals *identity.Service, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	var o handlerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		sessions:   sessions,
		principals: principals,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	h.gate = authz.NewGate(callerPermissions,
		authz.WithDeny(h.deny),
		authz.WithMetrics(o.gateMetrics),
		authz.WithLogger(log),
	)
	return h
}

// Routes registers every endpoint on r. Each protected route declares its
// requirement next to its handler.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(h.loginLimiter()).Post("/login", h.handleLogin)
		r.With(h.refreshLimiter()).Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.With(h.authenticate, h.gate.Require(authz.Authenticated())).Get("/me", h.handleMe)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/", h.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.With(h.gate.Require(authz.AllOf(authz.AdminRead))).Get("/", h.handleListPrincipals)
			r.With(h.gate.Require(authz.Authenticated())).Get("/me", h.handleMe)
			r.With(h.gate.Require(authz.Authenticated())).Get("/roles", h.handleListRoles)
			r.With(h.gate.Require(authz.AllOf(authz.AdminWrite))).Patch("/roles", h.handleSetRoles)
		})
	})
}

// ---- session endpoints ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	issued, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeSessionError(w, r, "auth.login", err)
		return
	}

	inBody := req.Transport == "body"
	if !inBody {
		h.setSessionCookies(w, issued.AccessToken, issued.AccessExp, issued.RefreshToken, issued.RefreshExp)
	}
	writeJSON(w, http.StatusOK, loginResponse{
		User:    toIssuedPrincipal(issued),
		Session: toSessionResponse(issued, inBody),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, fromCookie, ok := h.presentedRefreshToken(w, r)
	if !ok {
		return
	}
	if refreshToken == "" {
		writeError(w, http.StatusUnauthorized, session.CodeInvalidRefreshToken, "refresh token is required")
		return
	}

	issued, err := h.sessions.Refresh(r.Context(), refreshToken)
	if err != nil {
		if fromCookie && session.IsClientError(err) {
			h.clearSessionCookies(w)
		}
		h.writeSessionError(w, r, "auth.refresh", err)
		return
	}

	if fromCookie {
		h.setSessionCookies(w, issued.AccessToken, issued.AccessExp, issued.RefreshToken, issued.RefreshExp)
	}
	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued, !fromCookie)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.logoutRefreshToken(w, r)
	if err := h.sessions.Logout(r.Context(), refreshToken); err != nil {
		h.log.ErrorContext(r.Context(), "auth.logout.fail", "err", err)
		writeServerError(w)
		return
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PayloadFrom(r.Context())
	if !ok {
		h.deny(w, r, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:      p.PrincipalID,
		Email:       p.Email,
		Name:        p.DisplayName,
		Permissions: p.Permissions,
		ExpiresAt:   p.ExpiresAt,
	})
}

// presentedRefreshToken reads the refresh credential from the JSON body, or
// from the refresh cookie when the body has none. It writes the error
// response itself when ok is false.
func (h *Handler) presentedRefreshToken(w http.ResponseWriter, r *http.Request) (tok string, fromCookie, ok bool) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return "", false, false
		}
		if err := h.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is too long")
			return "", false, false
		}
	}
	if tok = strings.TrimSpace(req.RefreshToken); tok != "" {
		return tok, false, true
	}
	if tok, found := h.refreshTokenFromCookie(r); found {
		return tok, true, true
	}
	return "", false, true
}

// logoutRefreshToken is the lenient counterpart of presentedRefreshToken:
// logout never fails on input, so a body that does not decode or validate
// is ignored and the refresh cookie is used instead.
func (h *Handler) logoutRefreshToken(w http.ResponseWriter, r *http.Request) string {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			req = refreshRequest{}
		} else if err := h.validate.Struct(req); err != nil {
			req = refreshRequest{}
		}
	}
	if tok := strings.TrimSpace(req.RefreshToken); tok != "" {
		return tok
	}
	tok, _ := h.refreshTokenFromCookie(r)
	return tok
}

func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, event string, err error) {
	code := session.Code(err)
	if session.IsClientError(err) {
		writeError(w, http.StatusUnauthorized, code, strings.ReplaceAll(code, "_", " "))
		return
	}
	h.log.ErrorContext(r.Context(), event+".fail", "code", code, "err", err)
	writeServerError(w)
}

// ---- authentication ----

type callerKey struct{}

type caller struct {
	payload session.Payload
	err     error
}

// authenticate verifies the presented access token and records the outcome
// on the request context. It never rejects; the gate does.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c caller
		if tok := h.accessToken(r); tok == "" {
			c.err = errMissingToken
		} else {
			c.payload, c.err = h.sessions.VerifyAccessToken(tok)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

var errMissingToken = errors.New("missing access token")

// PayloadFrom returns the verified access-token payload of the caller.
func PayloadFrom(ctx context.Context) (session.Payload, bool) {
	c, ok := ctx.Value(callerKey{}).(caller)
	if !ok || c.err != nil {
		return session.Payload{}, false
	}
	return c.payload, true
}

func callerPermissions(r *http.Request) ([]string, bool) {
	p, ok := PayloadFrom(r.Context())
	if !ok {
		return nil, false
	}
	return p.Permissions, true
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request, status int) {
	if status == http.StatusForbidden {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}
	c, _ := r.Context().Value(callerKey{}).(caller)
	switch {
	case c.err == nil, errors.Is(c.err, errMissingToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing access token")
	default:
		writeError(w, http.StatusUnauthorized, session.Code(c.err), "invalid access token")
	}
}
