package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarters-hq/quarters/config"
	"github.com/quarters-hq/quarters/logger"
	"github.com/quarters-hq/quarters/queue"
	"github.com/quarters-hq/quarters/queue/sqliteq"
)

// JobsCmd inspects the queue databases.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect job queues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsStatsCmd prints per-queue job counts.
var JobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status for every queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(func(provider *sqliteq.Provider) error {
			for _, name := range queue.KnownQueues {
				backend, err := provider.Backend(name)
				if err != nil {
					return err
				}
				stats, err := backend.GetStats()
				if err != nil {
					return err
				}
				fmt.Printf("%s:\n", name)
				fmt.Printf("  queued:    %d\n", stats.Queued)
				fmt.Printf("  running:   %d\n", stats.Running)
				fmt.Printf("  completed: %d\n", stats.Completed)
				fmt.Printf("  failed:    %d\n", stats.Failed)
			}
			return nil
		})
	},
}

// JobsScheduleCmd prints upcoming repeating runs.
var JobsScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show upcoming repeating job runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProvider(func(provider *sqliteq.Provider) error {
			ctx := context.Background()
			for _, name := range queue.KnownQueues {
				backend, err := provider.Backend(name)
				if err != nil {
					return err
				}
				repeatables, err := backend.ListRepeatable(ctx)
				if err != nil {
					return err
				}
				if len(repeatables) == 0 {
					continue
				}
				fmt.Printf("%s:\n", name)
				for _, r := range repeatables {
					fmt.Printf("  %-30s %-15s next %s\n",
						r.Name, r.Cron, r.Next.Format(time.RFC3339))
				}
			}
			return nil
		})
	},
}

// withProvider opens the queue databases for a one-shot inspection command.
func withProvider(fn func(*sqliteq.Provider) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	provider := sqliteq.NewProvider(cfg.Queue.DatabasePath,
		sqliteq.DefaultWorkerPoolConfig(), logger.Logger)
	defer provider.Close()

	return fn(provider)
}

func init() {
	JobsCmd.AddCommand(JobsStatsCmd)
	JobsCmd.AddCommand(JobsScheduleCmd)
}
