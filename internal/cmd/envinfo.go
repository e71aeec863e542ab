package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/mailsched/mailsched/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display version, runtime and resolved configuration. Secrets are reported as set or not set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== mailsched Environment Information ===")
		log.Info("")
		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Env Prefix: " + identity.EnvPrefix)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  Platform:   "+runtime.GOOS+"/"+runtime.GOARCH, zap.String("goos", runtime.GOOS))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return err
		}

		log.Info("Configuration:")
		log.Info("  Config File:    " + config.DefaultConfigPath())
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Admin Token:    " + setOrNot(cfg.Server.AdminToken))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    " + cfg.Logging.Profile)
		log.Info("  DB Driver:      " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  DB URL:         " + cfg.Store.URL)
			log.Info("  DB Auth Token:  " + setOrNot(cfg.Store.AuthToken))
		} else {
			log.Info("  DB Path:        " + cfg.Store.Path)
		}
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("")

		log.Info("Relay:")
		log.Info("  URL:            " + orUnset(cfg.Relay.URL))
		log.Info("  Default Token:  " + setOrNot(cfg.Relay.Token))
		log.Info(fmt.Sprintf("  User Tokens:    %d", len(cfg.Relay.Tokens())))
		log.Info("  Timeout:        " + cfg.Relay.Timeout.String())
		log.Info("")

		s := cfg.Scheduler
		log.Info("Scheduler:")
		log.Info(fmt.Sprintf("  Enabled:        %t", s.Enabled))
		log.Info(fmt.Sprintf("  Window:         %d min .. %d days", s.MinScheduleMinutes, s.MaxScheduleDays))
		log.Info(fmt.Sprintf("  Retries:        %d (base %s)", s.RetryAttempts, s.RetryDelay))
		log.Info(fmt.Sprintf("  Rate Limit:     %d per %s", s.RateLimitMax, s.RateLimitWindow))
		log.Info("  Safety Timeout: " + s.SafetyTimeout.String())
		log.Info("  Poll Interval:  " + s.PollInterval.String())
		log.Info("  Timezone:       " + s.Location().String())
		log.Info("")

		log.Info("Backend:")
		log.Info("  URL:            " + orUnset(cfg.Backend.URL) + " (unset means in-process)")
		log.Info("  User:           " + orUnset(cfg.Backend.User))
		log.Info("")

		log.Info("=== End Environment Information ===")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}

func setOrNot(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "(set)"
}

func orUnset(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(unset)"
	}
	return v
}
