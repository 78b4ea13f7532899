package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/request"
)

// Logging writes one http_request entry per request. Log it inside Auth so the caller
// is known.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", logger.SanitizePath(r.URL.Path)),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int("bytes", wrapped.written),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if caller := request.CallerFromContext(r.Context()); caller != nil {
				fields = append(fields,
					zap.String("user_id", caller.UserID.String()),
					zap.String("owner_id", caller.OwnerID.String()),
				)
			}

			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				log.Error("http_request", fields...)
			case wrapped.statusCode >= http.StatusBadRequest:
				log.Warn("http_request", fields...)
			default:
				log.Info("http_request", fields...)
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
