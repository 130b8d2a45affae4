package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarters-hq/quarters/logger"
)

// RootCmd is the quartersd entry point.
var RootCmd = &cobra.Command{
	Use:   "quartersd",
	Short: "Quarters background job and real-time delivery daemon",
	Long: `Quarters background job and real-time delivery daemon.

quartersd runs the async machinery behind the Quarters property-management
backend:
- durable job queues with worker pools and per-job timeouts
- recurring maintenance jobs on cron schedules
- a per-user job registry backed by the cache
- WebSocket push delivery of job and announcement events

Examples:
  quartersd serve               # run everything in one process
  quartersd serve --workers 4   # with four concurrent job workers
  quartersd version             # show build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	RootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(JobsCmd)
	RootCmd.AddCommand(VersionCmd)
}
