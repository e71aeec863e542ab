package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsched/mailsched/internal/engine"
	"github.com/mailsched/mailsched/internal/observability"
)

// validationReport is what validate prints.
type validationReport struct {
	Input        string `json:"input" yaml:"input"`
	Valid        bool   `json:"valid" yaml:"valid"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
	ScheduledFor string `json:"scheduled_for,omitempty" yaml:"scheduled_for,omitempty"`
	Earliest     string `json:"earliest" yaml:"earliest"`
	Latest       string `json:"latest" yaml:"latest"`
}

// errInvalidTime makes validate exit non-zero after printing the report.
var errInvalidTime = errors.New("scheduled time is not valid")

var validateCmd = &cobra.Command{
	Use:   "validate <time>",
	Short: "Check a delivery time against the scheduling window",
	Long: `Check a delivery time against the configured scheduling window
(scheduler.min_schedule_minutes to scheduler.max_schedule_days from now)
without contacting the backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng := engine.New(engine.Options{
			Boot:     cfg.Scheduler.BootConfig(),
			Logger:   observability.CLI(),
			Location: cfg.Scheduler.Location(),
		})

		report := validateTime(eng, args[0])
		if err := render(cmd, report); err != nil {
			return err
		}
		if !report.Valid {
			return errInvalidTime
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateTime(eng *engine.Engine, input string) validationReport {
	v := eng.ValidateScheduleDate(input)
	report := validationReport{
		Input:    input,
		Valid:    v.IsValid,
		Error:    v.Error,
		Earliest: eng.GetMinScheduleDate().Format(time.RFC3339),
		Latest:   eng.GetMaxScheduleDate().Format(time.RFC3339),
	}
	if v.IsValid {
		report.ScheduledFor = eng.FormatScheduledDate(input)
	}
	return report
}
