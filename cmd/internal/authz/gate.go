package authz

import (
	"log/slog"
	"net/http"
)

// PermissionSource extracts the verified permission set of the caller. ok is
// false when the request carries no verified principal.
type PermissionSource func(r *http.Request) (perms []string, ok bool)

// DenyFunc writes the rejection response. status is 401 for an anonymous
// caller and 403 for an authenticated caller lacking permissions.
type DenyFunc func(w http.ResponseWriter, r *http.Request, status int)

// Gate turns Requirements into HTTP middleware.
type Gate struct {
	source  PermissionSource
	deny    DenyFunc
	metrics *Metrics
	log     *slog.Logger
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithDeny replaces the plain-text rejection response.
func WithDeny(fn DenyFunc) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.deny = fn
		}
	}
}

// WithMetrics counts decisions on m.
func WithMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the logger used for denials (default slog.Default()).
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGate builds a Gate reading permissions from src.
func NewGate(src PermissionSource, opts ...GateOption) *Gate {
	g := &Gate{
		source: src,
		deny: func(w http.ResponseWriter, _ *http.Request, status int) {
			http.Error(w, http.StatusText(status), status)
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require returns middleware admitting requests whose caller satisfies req.
func (g *Gate) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			perms, ok := g.source(r)
			if !ok {
				g.metrics.record(req, decisionUnauthenticated)
				g.deny(w, r, http.StatusUnauthorized)
				return
			}
			if !req.Allows(perms) {
				g.metrics.record(req, decisionDeny)
				g.log.InfoContext(r.Context(), "authz.deny", "path", r.URL.Path, "requires", req.String())
				g.deny(w, r, http.StatusForbidden)
				return
			}
			g.metrics.record(req, decisionAllow)
			next.ServeHTTP(w, r)
		})
	}
}
