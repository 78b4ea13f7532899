package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/content"
	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/queue"
)

// NewRestoreCmd creates the restore command
func NewRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Make an earlier content version current",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := uuidFlag(cmd, "owner")
			if err != nil {
				return err
			}
			versionID, err := uuidFlag(cmd, "version")
			if err != nil {
				return err
			}
			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			store := content.NewStore(database.NewContentRepository(db), database.NewBlobRepository(db), nil, zap.NewNop())
			v, err := store.Restore(context.Background(), ownerID, versionID)
			if err != nil {
				return fmt.Errorf("failed to restore version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version %d (%s) is now current.\n", v.Version, v.ID)
			return nil
		},
	}
	cmd.Flags().String("owner", "", "Owner UUID (required)")
	cmd.Flags().String("version", "", "Version UUID (required)")
	return cmd
}

// NewReapCmd creates the reap command, a single garbage collection pass
func NewReapCmd() *cobra.Command {
	var dlq bool

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete finished queue rows and events older than QUEUE_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			purgers := map[string]queue.Purger{
				"queue_rows": queue.NewRowReaper(database.NewQueueRepository(db), database.NewEventRepository(db)),
			}
			if dlq {
				q, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, zap.NewNop())
				if err != nil {
					return fmt.Errorf("failed to connect to rabbitmq: %w", err)
				}
				defer func() {
					if err := q.Close(); err != nil {
						fmt.Fprintf(os.Stderr, "Warning: failed to close rabbitmq connection: %v\n", err)
					}
				}()
				purgers["dlq"] = q
			}

			gc := queue.NewGarbageCollector(purgers, 0, cfg.QueueRetention, nil, zap.NewNop())
			n, err := gc.Collect(context.Background())
			if err != nil {
				return fmt.Errorf("reap finished with errors after removing %d entries: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %s.\n", n, cfg.QueueRetention)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dlq, "dlq", false, "Also purge the dead letter queue")
	return cmd
}
