package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/scheduler"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Reconcile pending records with the relay once",
	Long: `Ask the relay for the state of every pending submission and mark
records Sent or Cancelled accordingly. "serve" runs this every
scheduler.poll_interval; use this command from cron when the backend runs
without the server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := observability.CLI()
		svc, db, err := openService(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort store close on exit

		report, err := scheduler.NewStatusPoller(svc, cfg.Scheduler.PollInterval).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		logger.Debug("Poll complete",
			zap.Int("checked", report.Checked),
			zap.Int("errors", report.Errors))
		return render(cmd, report)
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
