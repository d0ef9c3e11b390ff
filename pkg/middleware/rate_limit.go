package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "appointments/pkg/errors"
	"appointments/pkg/keys"
	"appointments/pkg/logger"
	"appointments/pkg/metrics"
	"appointments/pkg/ratelimit"
)

const UserIDHeader = "X-User-ID"

// RateLimitPolicy configures the per-IP and per-user fixed windows. Match
// selects the requests the policy applies to; nil matches every request.
type RateLimitPolicy struct {
	IPLimit   int
	UserLimit int
	Window    time.Duration
	Match     func(r *http.Request) bool
}

// MatchRoute matches one method and exact path.
func MatchRoute(method, path string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return r.Method == method && r.URL.Path == path
	}
}

// RateLimit enforces the client IP window and, when the caller identifies
// itself with X-User-ID, the user window. Both must pass. A limiter error
// lets the request through.
func RateLimit(limiter ratelimit.Limiter, policy RateLimitPolicy, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if policy.Match != nil && !policy.Match(r) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if !check(w, r, limiter, log, "ip", keys.RateLimitIP(ip), policy.IPLimit, policy.Window) {
				return
			}

			if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
				if !check(w, r, limiter, log, "user", keys.RateLimitUser(userID), policy.UserLimit, policy.Window) {
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func check(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, log *logger.Logger, scope, key string, limit int, window time.Duration) bool {
	res, err := limiter.Allow(r.Context(), key, limit, window)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues(scope, "error").Inc()
		log.Warn("Rate limiter unavailable, allowing request",
			"request_id", RequestID(r),
			"scope", scope,
			"error", err,
		)
		return true
	}

	if res.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(scope, "allowed").Inc()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		return true
	}

	metrics.RateLimitDecisions.WithLabelValues(scope, "throttled").Inc()
	log.Warn("Rate limit exceeded",
		"request_id", RequestID(r),
		"scope", scope,
		"key", key,
		"count", res.Count,
		"path", r.URL.Path,
	)

	_ = apperrors.WriteError(w, apperrors.TooManyRequests("Rate limit exceeded", res.RetryAfter))
	return false
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
