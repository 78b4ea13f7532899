// Package ratelimit bounds how often a user may trigger each class of action.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/telemetry"
)

// ActionClass groups actions that share a budget
type ActionClass string

const (
	ClassGeneration ActionClass = "generation"
	ClassChat       ActionClass = "chat"
)

// ErrRateLimited is returned when the caller has exhausted the budget for a class
var ErrRateLimited = errors.New("rate limit exceeded")

const storePrefix = "studygen_limiter"

// DefaultRates returns the hourly budgets: 10 generations and 30 chat messages.
func DefaultRates() map[ActionClass]limiter.Rate {
	return map[ActionClass]limiter.Rate{
		ClassGeneration: {Period: time.Hour, Limit: 10},
		ClassChat:       {Period: time.Hour, Limit: 30},
	}
}

// NewStore returns a Redis-backed store when client is set, otherwise a process-local one.
func NewStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memorystore.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          storePrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   storePrefix,
		MaxRetry: limiter.DefaultMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// Limiter holds one fixed window per (user, class)
type Limiter struct {
	limiters map[ActionClass]*limiter.Limiter
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// New creates a Limiter over store with the given per-class rates
func New(store limiter.Store, rates map[ActionClass]limiter.Rate, metrics *telemetry.Metrics, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiters := make(map[ActionClass]*limiter.Limiter, len(rates))
	for class, rate := range rates {
		limiters[class] = limiter.New(store, rate)
	}
	return &Limiter{limiters: limiters, metrics: metrics, logger: logger.Named("ratelimit")}
}

// Allow consumes one unit of the caller's budget for class and reports whether the
// action may proceed. A denied call does not advance the counter.
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID, class ActionClass) (bool, error) {
	lim, ok := l.limiters[class]
	if !ok {
		return false, fmt.Errorf("unknown action class %q", class)
	}
	key := Key(userID, class)

	peek, err := lim.Peek(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read rate window: %w", err)
	}
	if peek.Reached || peek.Remaining <= 0 {
		l.deny(userID, class, peek)
		return false, nil
	}

	got, err := lim.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to advance rate window: %w", err)
	}
	if got.Reached {
		l.deny(userID, class, got)
		return false, nil
	}
	return true, nil
}

// Check is Allow expressed as an error: nil when allowed, ErrRateLimited when denied.
func (l *Limiter) Check(ctx context.Context, userID uuid.UUID, class ActionClass) error {
	allowed, err := l.Allow(ctx, userID, class)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrRateLimited, class)
	}
	return nil
}

// Remaining reports the unused budget without consuming it
func (l *Limiter) Remaining(ctx context.Context, userID uuid.UUID, class ActionClass) (int64, time.Time, error) {
	lim, ok := l.limiters[class]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unknown action class %q", class)
	}
	c, err := lim.Peek(ctx, Key(userID, class))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate window: %w", err)
	}
	return c.Remaining, time.Unix(c.Reset, 0), nil
}

// Reset clears the caller's window for class
func (l *Limiter) Reset(ctx context.Context, userID uuid.UUID, class ActionClass) error {
	lim, ok := l.limiters[class]
	if !ok {
		return fmt.Errorf("unknown action class %q", class)
	}
	if _, err := lim.Reset(ctx, Key(userID, class)); err != nil {
		return fmt.Errorf("failed to reset rate window: %w", err)
	}
	return nil
}

// Key is the store key for a (user, class) window
func Key(userID uuid.UUID, class ActionClass) string {
	return string(class) + ":" + userID.String()
}

func (l *Limiter) deny(userID uuid.UUID, class ActionClass, c limiter.Context) {
	l.metrics.ObserveDenied(string(class))
	l.logger.Info("rate_limit_denied",
		zap.String("user_id", userID.String()),
		zap.String("class", string(class)),
		zap.Int64("limit", c.Limit),
		zap.Int64("reset", c.Reset),
	)
}
