package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// unknownActor is the bucket for requests whose origin cannot be determined.
// Grouping them keeps the limiter total rather than letting header-less
// clients escape limiting entirely.
const unknownActor = "unknown"

// ClientIP extracts the caller's address for rate-limit keying. Proxy
// headers are preferred in order: X-Forwarded-For (first hop), X-Real-IP,
// CF-Connecting-IP, then the socket address. Missing headers never fail;
// an undeterminable origin lands in the shared "unknown" bucket.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return unknownActor
}
