package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"classbook/internal/types"
)

const (
	defaultRateLimitMax    = 120
	defaultRateLimitWindow = time.Minute
)

// RateLimit counts requests per tenant and actor (or client address for
// anonymous viewers) in the RateLimitStore. Store failures fail open.
//
// Every checked response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; rejections add Retry-After.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.rateLimitSettings()
		key := rateLimitKey(r)

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, window)
		if err != nil {
			types.LoggerFromContext(r.Context(), s.Logger).Error("rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			types.LoggerFromContext(r.Context(), s.Logger).Warn("rate limit exceeded",
				slog.String("key", key),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit,
				"Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitSettings() (int, time.Duration) {
	limit, window := defaultRateLimitMax, defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.Redis.RequestsPerMin > 0 {
			limit = s.Config.Redis.RequestsPerMin
		}
		if s.Config.Redis.Window > 0 {
			window = s.Config.Redis.Window
		}
	}
	return limit, window
}

// rateLimitKey is "<tenant>:<actor>" for authenticated requests and
// "<tenant>:ip:<addr>" otherwise.
func rateLimitKey(r *http.Request) string {
	tenantID := "-"
	if t, ok := types.GetTenant(r.Context()); ok && !t.IsZero() {
		tenantID = t.ID
	}
	if actor, ok := types.GetActor(r.Context()); ok {
		return tenantID + ":" + actor.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return tenantID + ":ip:" + host
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
