package middleware

import (
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds ordinary API requests
const DefaultRequestTimeout = 30 * time.Second

const timeoutBody = `{"success":false,"error":"Service Unavailable","message":"Request timed out"}`

// Timeout cancels the request context and answers 503 once timeout passes. Routes that
// call the LLM synchronously (chat, rubric) need a longer timeout than the default.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
