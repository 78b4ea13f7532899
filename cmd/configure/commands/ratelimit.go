package commands

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/config"
	"github.com/benvon/studygen/internal/ratelimit"
)

// NewRatelimitCmd creates the ratelimit command with remaining and reset subcommands.
// Budgets live in Redis, so REDIS_URL must be set.
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect or reset per-user rate limit budgets",
	}
	cmd.PersistentFlags().String("user", "", "User UUID (required)")
	cmd.PersistentFlags().String("class", string(ratelimit.ClassGeneration), "Action class: generation or chat")

	cmd.AddCommand(&cobra.Command{
		Use:   "remaining",
		Short: "Show the remaining budget for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, func(ctx context.Context, l *ratelimit.Limiter, class ratelimit.ActionClass) error {
				userID, err := uuidFlag(cmd, "user")
				if err != nil {
					return err
				}
				remaining, reset, err := l.Remaining(ctx, userID, class)
				if err != nil {
					return fmt.Errorf("failed to read budget: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Remaining %s requests: %d (window resets %s)\n", class, remaining, reset.Format("15:04:05"))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the full budget for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLimiter(cmd, func(ctx context.Context, l *ratelimit.Limiter, class ratelimit.ActionClass) error {
				userID, err := uuidFlag(cmd, "user")
				if err != nil {
					return err
				}
				if err := l.Reset(ctx, userID, class); err != nil {
					return fmt.Errorf("failed to reset budget: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rate limit for %s reset.\n", class)
				return nil
			})
		},
	})

	return cmd
}

func withLimiter(cmd *cobra.Command, fn func(ctx context.Context, l *ratelimit.Limiter, class ratelimit.ActionClass) error) error {
	rawClass, err := cmd.Flags().GetString("class")
	if err != nil {
		return err
	}
	class := ratelimit.ActionClass(rawClass)
	if _, ok := ratelimit.DefaultRates()[class]; !ok {
		return fmt.Errorf("unknown class %q", rawClass)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required; without it budgets are per server process")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	store, err := ratelimit.NewStore(client)
	if err != nil {
		return err
	}
	return fn(context.Background(), ratelimit.New(store, ratelimit.DefaultRates(), nil, zap.NewNop()), class)
}
