package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benvon/studygen/cmd/configure/commands"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:           "studygen-configure",
		Short:         "Operations tool for the studygen service",
		Long:          "CLI tool for schema migrations, backend checks, content versions and rate limit budgets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewMigrateCmd())
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewTestCmd())
	rootCmd.AddCommand(commands.NewRestoreCmd())
	rootCmd.AddCommand(commands.NewReapCmd())
	rootCmd.AddCommand(commands.NewRatelimitCmd())
	rootCmd.AddCommand(commands.NewTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
