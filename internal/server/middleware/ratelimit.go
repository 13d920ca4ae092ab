package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps requests per client address per minute. It is a coarse
// flood guard in front of the failure-based blocklist, not a substitute
// for it.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
		}),
	)
}

// RateLimitByAdmin caps requests per verified administrator per minute. It
// must run after Identity; requests without an identity share one bucket.
func RateLimitByAdmin(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := GetIdentity(r.Context()); id != nil {
				return "admin:" + id.AdminID, nil
			}
			return "anonymous", nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests for this administrator", nil)
		}),
	)
}
