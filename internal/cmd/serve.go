package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/mailsched/mailsched/internal/core/store"
	errwrap "github.com/mailsched/mailsched/internal/errors"
	"github.com/mailsched/mailsched/internal/metrics"
	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/scheduler"
	"github.com/mailsched/mailsched/internal/server"
	"github.com/mailsched/mailsched/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler backend",
	Long: `Run the scheduler backend: the /api/method/* endpoints, health probes
and the relay status poller.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level only; restart for other changes)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides server.port)")
}

func serveOverrides() map[string]any {
	srv := map[string]any{}
	if serverHost != "" {
		srv["host"] = serverHost
	}
	if serverPort > 0 {
		srv["port"] = serverPort
	}
	if len(srv) == 0 {
		return nil
	}
	return map[string]any{"server": srv}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var overrides []map[string]any
	if o := serveOverrides(); o != nil {
		overrides = append(overrides, o)
	}
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "configuration load failed")
	}

	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	observability.InitServerLogger(observability.ServerOptions{
		Service:   identity.BinaryName,
		Level:     cfg.Logging.Level,
		Profile:   cfg.Logging.Profile,
		Namespace: namespace,
	})
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	svc, db, err := openService(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", zap.Error(err))
		return errwrap.WrapDatabaseError(ctx, err, "store initialization failed")
	}

	poller := scheduler.NewStatusPoller(svc, cfg.Scheduler.PollInterval)

	health := handlers.NewHealthManager(versionInfo.Version)
	registerHealthChecks(health, cfg, db)

	srv := server.New(server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Service:      svc,
		Health:       health,
		AdminToken:   cfg.Server.AdminToken,
	})
	handlers.SetAppName(identity.BinaryName)

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", db.Driver()),
		zap.String("relay", cfg.Relay.URL),
		zap.Duration("poll_interval", cfg.Scheduler.PollInterval),
		zap.Int("metrics_port", observability.GetMetricsPort()))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: HTTP server, poller, metrics and store, logger.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		if err := observability.ShutdownMetrics(); err != nil {
			logger.Warn("Metrics exporter stop failed", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "store close failed")
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Stopping status poller...")
		poller.Stop()
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: reloading configuration")

		reloaded, err := config.Load(ctx, overrides...)
		if err != nil {
			logger.Error("Failed to reload configuration", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		if reloaded.Logging.Level != cfg.Logging.Level {
			observability.InitServerLogger(observability.ServerOptions{
				Service:   identity.BinaryName,
				Level:     reloaded.Logging.Level,
				Profile:   cfg.Logging.Profile,
				Namespace: namespace,
			})
			logger = observability.ServerLogger
			cfg.Logging.Level = reloaded.Logging.Level
		}

		logger.Info("Configuration reloaded", zap.String("log_level", cfg.Logging.Level))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	poller.Start()
	metrics.SetServerStartTime(time.Now())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}

	return nil
}

func registerHealthChecks(hm *handlers.HealthManager, cfg *config.Config, db *store.Store) {
	hm.RegisterChecker("store", handlers.CheckerFunc(func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "store unreachable")
		}
		return nil
	}))

	hm.RegisterChecker("relay_config", handlers.CheckerFunc(func(ctx context.Context) error {
		if cfg.Relay.URL == "" {
			return errwrap.NewConfigInvalidError("relay.url is not set")
		}
		return nil
	}))

	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.CheckerFunc(func(ctx context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errwrap.NewInternalError("telemetry system not initialized")
			}
			return nil
		}))
	}
}
