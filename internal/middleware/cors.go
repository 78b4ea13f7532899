package middleware

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

const defaultOrigin = "http://localhost:3000"

// CORS wraps handlers with rs/cors for the given origins. An empty list allows only the
// local development frontend.
func CORS(allowedOrigins []string, log *zap.Logger) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{defaultOrigin}
	}
	if log != nil {
		log.Info("cors_configured", zap.Strings("origins", allowedOrigins))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		MaxAge:           86400,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition", "X-RateLimit-Remaining"},
	})
	return c.Handler
}
