package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsched/mailsched/internal/core"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List scheduled messages",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")
		status, _ := flags.GetString("status")
		sortBy, _ := flags.GetString("sort-by")
		desc, _ := flags.GetBool("desc")

		opts := core.ListOptions{Limit: limit, Offset: offset, Status: status, SortBy: sortBy}
		if desc {
			opts.SortOrder = "desc"
		}

		return withSession(cmd, func(s *session) (any, error) {
			return s.engine.GetScheduledEmails(cmd.Context(), opts)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <email-id>",
	Short: "Show one scheduled message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) (any, error) {
			return s.engine.GetScheduledEmail(cmd.Context(), args[0])
		})
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count scheduled messages by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) (any, error) {
			return s.engine.GetScheduledCount(cmd.Context())
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <email-id>",
	Short: "Cancel a scheduled message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) (any, error) {
			return s.engine.CancelScheduledEmail(cmd.Context(), args[0])
		})
	},
}

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule <email-id> [time]",
	Short: "Move a scheduled message to a new delivery time",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at := ""
		if len(args) == 2 {
			at = args[1]
		}
		in, _ := cmd.Flags().GetDuration("in")
		when, err := deliveryTime(at, in, time.Now())
		if err != nil {
			return err
		}

		return withSession(cmd, func(s *session) (any, error) {
			return s.engine.RescheduleEmail(cmd.Context(), args[0], when)
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the limits the scheduler backend enforces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) (any, error) {
			return s.engine.GetSchedulerConfig(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd, showCmd, countCmd, cancelCmd, rescheduleCmd, configCmd)

	listCmd.Flags().Int("limit", 20, "page size (max 100)")
	listCmd.Flags().Int("offset", 0, "page offset")
	listCmd.Flags().String("status", "", "filter by status: Scheduled, Sent, Cancelled, Failed, Draft")
	listCmd.Flags().String("sort-by", "scheduled_at", "sort field: scheduled_at, creation, subject, from_email")
	listCmd.Flags().Bool("desc", false, "sort descending")

	rescheduleCmd.Flags().Duration("in", 0, "deliver after this duration instead of at a fixed time")
}

// withSession opens a backend session, runs fn and renders its result.
func withSession(cmd *cobra.Command, fn func(s *session) (any, error)) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close() // nolint:errcheck // best-effort store close on exit

	result, err := fn(s)
	if err != nil {
		return err
	}
	return render(cmd, result)
}
