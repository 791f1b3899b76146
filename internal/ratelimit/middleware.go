package ratelimit

import (
	"net/http"
	"strings"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// LimitedHandler writes the 429 response body. Injected by the caller so
// this package stays free of the server's response envelope.
type LimitedHandler func(w http.ResponseWriter, r *http.Request)

// Middleware enforces limiter on every request whose key is non-empty.
// Limiter errors fail open. A nil limiter passes everything through.
func Middleware(limiter Limiter, keyFunc KeyFunc, onLimited LimitedHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				onLimited(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc keys requests by client IP, from RemoteAddr only.
// X-Forwarded-For is not trusted: the server may not sit behind a proxy
// that sanitizes it, and any client can set an arbitrary value to dodge
// the limit. Behind a trusted proxy, have the proxy rewrite RemoteAddr.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
