package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/middleware"
	"github.com/benvon/studygen/internal/request"
)

// NewTokenCmd creates the token command, which mints a bearer token for local testing
func NewTokenCmd() *cobra.Command {
	var (
		secret  string
		manager bool
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Long:  "Sign an HS256 token with AUTH_JWT_SECRET. A new user ID is generated when --user is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuidFlag(cmd, "owner")
			if err != nil {
				return err
			}
			userID := uuid.New()
			if raw, _ := cmd.Flags().GetString("user"); raw != "" {
				if userID, err = uuidFlag(cmd, "user"); err != nil {
					return err
				}
			}

			auth, err := middleware.NewAuthenticator(secret, zap.NewNop())
			if err != nil {
				return err
			}
			token, err := auth.Issue(request.Caller{UserID: userID, OwnerID: ownerID, Manager: manager}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("owner", "", "Owner UUID (required)")
	cmd.Flags().String("user", "", "User UUID")
	cmd.Flags().BoolVar(&manager, "manager", false, "Grant the manager role")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "Signing secret")

	return cmd
}
