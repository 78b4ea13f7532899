package request

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller is the identity a request acts as. It is set from the verified token and
// passed explicitly into the pipeline.
type Caller struct {
	UserID  uuid.UUID
	OwnerID uuid.UUID
	// Manager callers may change content (generate, restore, reset, edit).
	Manager bool
}

// CallerContextKey returns the context key used for the caller. Exposed for tests that inject non-caller values.
func CallerContextKey() contextKey { return callerContextKey }

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// WithCaller returns a context carrying the caller
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext returns the caller, or nil if missing or of the wrong type
func CallerFromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerContextKey).(*Caller)
	return c
}
