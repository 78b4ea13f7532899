package ai

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"

	"github.com/benvon/studygen/internal/outbound"
	"github.com/benvon/studygen/internal/validation"
)

var (
	// ErrInvalidResponse indicates the backend answered with something that is not the expected shape
	ErrInvalidResponse = errors.New("invalid response from generation backend")
	// ErrTimeout indicates the backend did not answer within the configured timeout
	ErrTimeout = errors.New("generation backend timed out")
	// ErrUnsupportedType is returned for a generation type the dispatcher does not know
	ErrUnsupportedType = errors.New("unsupported generation type")
)

// UpstreamError is a non-2xx answer from the backend
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generation backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("generation backend returned HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimitError reports whether the backend throttled the request
func IsRateLimitError(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether a failed generation should go through the backoff policy.
// Blocked destinations and invalid input are configuration or caller problems and are
// never retried; everything else, including unknown errors, is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, outbound.ErrSSRFBlocked) || errors.Is(err, ErrUnsupportedType) {
		return false
	}
	var verr *validation.Error
	return !errors.As(err, &verr)
}

// classify maps transport and SDK errors onto the package taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, outbound.ErrSSRFBlocked) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.StatusCode, Message: http.StatusText(apiErr.StatusCode)}
	}
	if outbound.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
