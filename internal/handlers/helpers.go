package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/content"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/outbound"
	"github.com/benvon/studygen/internal/pipeline"
	"github.com/benvon/studygen/internal/ratelimit"
	"github.com/benvon/studygen/internal/services/ai"
	"github.com/benvon/studygen/internal/validation"
)

const maxErrorMessage = 200

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondJSONError sends an error JSON response. message must already be safe to show.
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if len(message) > maxErrorMessage {
		message = message[:maxErrorMessage] + "..."
	}

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondServiceError maps pipeline errors onto statuses. Only validation messages are
// passed through; everything else gets a fixed message.
func respondServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		respondJSONError(w, http.StatusBadRequest, "Bad Request", verr.Error())
	case errors.Is(err, pipeline.ErrNoCaller):
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
	case errors.Is(err, pipeline.ErrForbidden):
		respondJSONError(w, http.StatusForbidden, "Forbidden", "You may not manage this content")
	case errors.Is(err, ratelimit.ErrRateLimited):
		respondJSONError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Please try again later.")
	case errors.Is(err, content.ErrOwnerMismatch):
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Version belongs to another activity")
	case errors.Is(err, content.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		respondJSONError(w, http.StatusNotFound, "Not Found", "Not found")
	case errors.Is(err, pipeline.ErrNoContent):
		respondJSONError(w, http.StatusConflict, "Conflict", "No content has been generated yet")
	case errors.Is(err, outbound.ErrSSRFBlocked):
		log.Error("backend_endpoint_blocked", zap.String("error", logger.SanitizeError(err)))
		respondJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "Content generation is not available. Please contact your administrator.")
	case isBackendError(err):
		respondJSONError(w, http.StatusBadGateway, "Bad Gateway", "The assistant could not answer. Please try again later.")
	default:
		log.Error("request_failed", zap.String("error", logger.SanitizeError(err)))
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
	}
}

// isBackendError reports failures of a synchronous LLM call
func isBackendError(err error) bool {
	var upstream *ai.UpstreamError
	return errors.Is(err, ai.ErrInvalidResponse) || errors.Is(err, ai.ErrTimeout) || errors.As(err, &upstream)
}

// decodeJSON reads a single JSON object from the request body
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return validation.NewError("", "request body is required")
		}
		return validation.NewError("", "invalid JSON body")
	}
	return nil
}
