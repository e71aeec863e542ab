package cmd

import (
	"context"
	"net/http"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/mailsched/mailsched/internal/core/store"
	"github.com/mailsched/mailsched/internal/engine"
	"github.com/mailsched/mailsched/internal/jmap"
	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/scheduler"
)

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openService builds the scheduler backend on top of a migrated store and
// the configured relay. The caller closes the returned store.
func openService(ctx context.Context, cfg *config.Config, logger observability.Logger) (*scheduler.Service, *store.Store, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	pool := &jmap.Pool{
		BaseURL:      cfg.Relay.URL,
		DefaultToken: cfg.Relay.Token,
		Tokens:       cfg.Relay.Tokens(),
		HTTPClient:   &http.Client{Timeout: cfg.Relay.Timeout},
		Logger:       logger,
	}

	svc := scheduler.New(scheduler.Options{
		Store:    db,
		Relays:   scheduler.PoolRelays(pool),
		Settings: engine.NormalizeSettings(cfg.Scheduler.BootConfig()),
		Limits: scheduler.Limits{
			MaxRecipients:       cfg.Scheduler.MaxRecipients,
			MaxAttachments:      cfg.Scheduler.MaxAttachments,
			MaxAttachmentSizeMB: cfg.Scheduler.MaxAttachmentSizeMB,
		},
		Location: cfg.Scheduler.Location(),
		Logger:   logger,
	})
	return svc, db, nil
}
