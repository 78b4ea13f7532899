package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benvon/studygen/internal/database"
)

// NewListCmd creates the list command with versions and queue subcommands
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's content versions or active generation requests",
	}
	cmd.PersistentFlags().String("owner", "", "Owner UUID (required)")

	cmd.AddCommand(&cobra.Command{
		Use:   "versions",
		Short: "List content versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuidFlag(cmd, "owner")
			if err != nil {
				return err
			}
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			versions, err := database.NewContentRepository(db).List(context.Background(), ownerID)
			if err != nil {
				return fmt.Errorf("failed to list versions: %w", err)
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No content versions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tID\tTYPE\tCURRENT\tCREATED")
			for _, v := range versions {
				current := ""
				if v.IsCurrent {
					current = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", v.Version, v.ID, v.Type, current, v.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "queue",
		Short: "List pending and processing generation requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuidFlag(cmd, "owner")
			if err != nil {
				return err
			}
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			reqs, err := database.NewQueueRepository(db).ListActiveByOwner(context.Background(), ownerID)
			if err != nil {
				return fmt.Errorf("failed to list queue: %w", err)
			}
			if len(reqs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active generation requests")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tRETRIES\tRUN AFTER")
			for _, r := range reqs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Type, r.Status, r.Retries, r.RunAfter.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	})

	return cmd
}
