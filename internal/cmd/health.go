package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/mailsched/mailsched/internal/errors"
	"github.com/mailsched/mailsched/internal/jmap"
	"github.com/mailsched/mailsched/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that configuration loads, the store opens and migrates, and the relay session is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		log.Info("Running health check...")

		cfg, err := loadConfig(cmd)
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(ctx, err, "config load failed"))
			return
		}
		log.Info("✅ Configuration loaded")

		db, err := openStore(ctx, cfg)
		if err != nil {
			ExitWithCode(log, foundry.ExitFailure, "Store unavailable", errwrap.WrapDatabaseError(ctx, err, "store open failed"))
			return
		}
		defer db.Close() // nolint:errcheck // best-effort store close on exit
		version, err := db.CurrentVersion(ctx)
		if err != nil {
			ExitWithCode(log, foundry.ExitFailure, "Store unavailable", errwrap.WrapDatabaseError(ctx, err, "schema version unreadable"))
			return
		}
		log.Info("✅ Store open and migrated",
			zap.String("driver", db.Driver()),
			zap.Bool("local", db.Local()),
			zap.Int("schema_version", version))

		if cfg.Relay.URL == "" {
			log.Warn("⚠️  relay.url is not set; scheduled sends will fail")
		} else {
			token := cfg.Relay.Token
			if token == "" && len(cfg.Relay.Users) > 0 {
				token = cfg.Relay.Users[0].Token
			}
			client := jmap.NewClient(cfg.Relay.URL, token, &http.Client{Timeout: cfg.Relay.Timeout})
			session, err := client.Session(ctx)
			if err != nil {
				ExitWithCode(log, foundry.ExitFailure, "Relay unreachable", errwrap.WrapExternalService(ctx, err, "relay session discovery failed"))
				return
			}
			log.Info(fmt.Sprintf("✅ Relay session ok (account %s)", session.AccountID()))
		}

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
