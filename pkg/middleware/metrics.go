package middleware

import (
	"net/http"
	"strconv"
	"time"

	"appointments/pkg/metrics"
)

// Metrics records request count and latency under a fixed router group label
// so raw paths never become label values.
func Metrics(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapWriter(w)

			next.ServeHTTP(wrapped, r)

			metrics.HTTPRequests.WithLabelValues(group, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.HTTPDuration.WithLabelValues(group, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
