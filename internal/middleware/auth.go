package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/request"
)

const (
	// OwnerClaim carries the activity instance the token is scoped to
	OwnerClaim = "owner"
	// RoleClaim is "manager" for callers that may change content
	RoleClaim   = "role"
	RoleManager = "manager"

	clockSkew = 30 * time.Second
)

// ErrInvalidToken is returned for tokens that fail verification or lack identity claims
var ErrInvalidToken = errors.New("invalid token")

// Authenticator verifies HS256 tokens minted by the host platform and turns them into
// a request.Caller
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator for tokens signed with secret
func NewAuthenticator(secret string, log *zap.Logger) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth secret must be at least 32 bytes")
	}
	return &Authenticator{secret: []byte(secret), logger: logger.OrNop(log).Named("auth")}, nil
}

// Verify checks the signature and lifetime of raw and extracts the caller
func (a *Authenticator) Verify(raw string) (*request.Caller, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(clockSkew),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(OwnerClaim),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(tok.Subject())
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	ownerRaw, _ := tok.Get(OwnerClaim)
	ownerStr, _ := ownerRaw.(string)
	ownerID, err := uuid.Parse(ownerStr)
	if err != nil {
		return nil, fmt.Errorf("%w: owner is not an id", ErrInvalidToken)
	}

	caller := &request.Caller{UserID: userID, OwnerID: ownerID}
	if role, ok := tok.Get(RoleClaim); ok {
		caller.Manager = role == RoleManager
	}
	return caller, nil
}

// Middleware rejects requests without a valid bearer token and stores the caller on the
// request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondErrorJSON(w, r, http.StatusUnauthorized, "Unauthorized", "Missing Authorization header", a.logger)
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			respondErrorJSON(w, r, http.StatusUnauthorized, "Unauthorized", "Invalid Authorization header format", a.logger)
			return
		}

		caller, err := a.Verify(token)
		if err != nil {
			a.logger.Warn("token_rejected",
				zap.String("path", logger.SanitizePath(r.URL.Path)),
				zap.String("ip", logger.SanitizeString(request.ClientIP(r), logger.MaxGeneralStringLength)),
				zap.String("error", logger.SanitizeError(err)),
			)
			respondErrorJSON(w, r, http.StatusUnauthorized, "Unauthorized", "Invalid or expired token", a.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(request.WithCaller(r.Context(), caller)))
	})
}

// Issue signs a token for caller that expires after ttl. The host platform normally
// mints tokens; this serves local tooling.
func (a *Authenticator) Issue(caller request.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(caller.UserID.String()).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(OwnerClaim, caller.OwnerID.String()).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	if caller.Manager {
		if err := tok.Set(RoleClaim, RoleManager); err != nil {
			return "", fmt.Errorf("failed to set role: %w", err)
		}
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
