package authapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

func (h *Handler) loginLimiter() func(http.Handler) http.Handler {
	return h.ipLimiter(h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
}

func (h *Handler) refreshLimiter() func(http.Handler) http.Handler {
	return h.ipLimiter(h.cfg.RefreshIPMax, h.cfg.RefreshIPWindow)
}

func (h *Handler) ipLimiter(limit int, window time.Duration) func(http.Handler) http.Handler {
	key := httprate.KeyByIP
	if h.cfg.TrustProxy {
		key = httprate.KeyByRealIP
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(key, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			h.log.InfoContext(r.Context(), "auth.rate_limited", "path", r.URL.Path)
			writeRateLimited(w, window)
		}),
	)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
