package middleware

import (
	"net/http"

	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/benvon/studygen/internal/request"
)

// DefaultIPRate bounds the whole API per client address
const DefaultIPRate = "300-M"

// IPRateLimit limits requests per client IP using the ulule limiter over store. It is a
// coarse flood guard; per-user generation and chat budgets are enforced by the pipeline.
func IPRateLimit(store limiter.Store, formatted string) (func(http.Handler) http.Handler, error) {
	if formatted == "" {
		formatted = DefaultIPRate
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(store, rate)
	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(func(r *http.Request) string {
			return "ip:" + request.ClientIP(r)
		}),
		stdlibmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			respondErrorJSON(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded", nil)
		}),
	)
	return mw.Handler, nil
}
