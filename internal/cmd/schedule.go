package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/observability"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule a message for later delivery",
	Long: `Schedule a message for later delivery.

The delivery time is either an absolute --at timestamp (RFC 3339, or
"2006-01-02 15:04" in scheduler.timezone) or a relative --in duration.`,
	Example: `  mailsched schedule --user ada --from ada@example.com --to bob@example.com \
    --subject "numbers" --body "see attached" --in 2h`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().String("from", "", "sender address")
	scheduleCmd.Flags().StringSlice("to", nil, "recipient addresses")
	scheduleCmd.Flags().StringSlice("cc", nil, "cc addresses")
	scheduleCmd.Flags().StringSlice("bcc", nil, "bcc addresses")
	scheduleCmd.Flags().String("subject", "", "message subject")
	scheduleCmd.Flags().String("body", "", "plain text body")
	scheduleCmd.Flags().String("body-file", "", "read the plain text body from a file (- for stdin)")
	scheduleCmd.Flags().String("html", "", "HTML body")
	scheduleCmd.Flags().String("in-reply-to", "", "Message-ID this message replies to")
	scheduleCmd.Flags().String("at", "", "delivery time")
	scheduleCmd.Flags().Duration("in", 0, "deliver after this duration (e.g. 90m)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	from, _ := flags.GetString("from")
	to, _ := flags.GetStringSlice("to")
	cc, _ := flags.GetStringSlice("cc")
	bcc, _ := flags.GetStringSlice("bcc")
	subject, _ := flags.GetString("subject")
	body, _ := flags.GetString("body")
	bodyFile, _ := flags.GetString("body-file")
	html, _ := flags.GetString("html")
	inReplyTo, _ := flags.GetString("in-reply-to")
	at, _ := flags.GetString("at")
	in, _ := flags.GetDuration("in")

	when, err := deliveryTime(at, in, time.Now())
	if err != nil {
		return err
	}

	if bodyFile != "" {
		text, err := readBody(bodyFile)
		if err != nil {
			return err
		}
		body = text
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close() // nolint:errcheck // best-effort store close on exit

	result, err := s.engine.ScheduleEmail(cmd.Context(), core.MailRequest{
		From:      from,
		To:        to,
		Cc:        cc,
		Bcc:       bcc,
		Subject:   subject,
		TextBody:  body,
		HTMLBody:  html,
		InReplyTo: inReplyTo,
	}, when)
	if err != nil {
		return err
	}

	observability.CLI().Debug("Scheduled message",
		zap.String("mail_message", result.MailMessage),
		zap.String("scheduled_at", when))
	return render(cmd, result)
}

// deliveryTime resolves --at / --in into a timestamp string. Exactly one
// must be given.
func deliveryTime(at string, in time.Duration, now time.Time) (string, error) {
	at = strings.TrimSpace(at)
	switch {
	case at != "" && in != 0:
		return "", errors.New("use either --at or --in, not both")
	case at != "":
		return at, nil
	case in > 0:
		return now.Add(in).UTC().Format(time.RFC3339), nil
	case in < 0:
		return "", fmt.Errorf("--in must be positive, got %s", in)
	default:
		return "", errors.New("a delivery time is required (--at or --in)")
	}
}

func readBody(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read body from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read body file: %w", err)
	}
	return string(data), nil
}
