package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// requestIDKey is the context key for request ids.
const requestIDKey contextKey = "request_id"

// RequestIDMiddleware tags each request with an opaque correlation id,
// stored in the context and echoed as the X-Request-ID response header.
// Clients quote the id when asking for support; logs carry it throughout.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID retrieves the request id from context, generating one when the
// middleware is not present so downstream code always has an id to log.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return uuid.New().String()
}
