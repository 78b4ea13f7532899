package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/config"
	"github.com/benvon/studygen/internal/outbound"
)

// NewTestCmd creates the test command
func NewTestCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test the LLM backend configuration",
		Long:  "Resolve the configured chat and speech endpoints and check them against the outbound address policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.LLM.Enabled() {
				return fmt.Errorf("AI_API_KEY and AI_BASE_URL must be set")
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client := outbound.NewClient(outbound.NewGuard(zap.NewNop()), zap.NewNop())
			out := cmd.OutOrStdout()
			for _, endpoint := range []string{cfg.LLM.ChatURL(), cfg.LLM.SpeechURL()} {
				fmt.Fprintf(out, "Checking %s\n", endpoint)
				if err := client.Preflight(ctx, endpoint); err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ endpoint allowed")
			}

			fmt.Fprintln(out, "\n✓ LLM backend configuration test passed")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Resolution timeout")

	return cmd
}
