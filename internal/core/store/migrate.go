package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// migration moves the schema from version-1 to version. Steps run in order
// inside one transaction and must be safe to re-run.
type migration struct {
	version int
	steps   []func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, steps: []func(context.Context, *sql.Tx) error{
		exec(`CREATE TABLE IF NOT EXISTS scheduled_emails (
			name TEXT PRIMARY KEY,
			user TEXT NOT NULL,
			email_id TEXT,
			submission_id TEXT,
			from_email TEXT NOT NULL,
			recipients_to TEXT NOT NULL,
			recipients_cc TEXT,
			recipients_bcc TEXT,
			subject TEXT,
			text_body TEXT,
			html_body TEXT,
			scheduled_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`),
		exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_user_status ON scheduled_emails(user, status)`),
		exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_scheduled_at ON scheduled_emails(scheduled_at)`),
		exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_email_id ON scheduled_emails(email_id)`),
	}},
	// Reply threading headers.
	{version: 2, steps: []func(context.Context, *sql.Tx) error{
		addColumn("scheduled_emails", "message_id", "TEXT"),
		addColumn("scheduled_emails", "in_reply_to", "TEXT"),
		addColumn("scheduled_emails", "refs", "TEXT"),
	}},
}

// SchemaVersion is the version Migrate brings a database to.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate applies every migration newer than the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("store migration %d failed: %w", m.version, err)
		}
	}
	return nil
}

// CurrentVersion returns the highest applied migration, or 0 on a fresh
// database.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, step := range m.steps {
		if err := step(ctx, tx); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func exec(stmt string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}
}

// addColumn adds column unless table already has it.
func addColumn(table, column, def string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return fmt.Errorf("inspect %s schema: %w", table, err)
		}
		found := false
		for rows.Next() {
			var (
				cid     int
				name    string
				colType string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				_ = rows.Close()
				return fmt.Errorf("inspect %s columns: %w", table, err)
			}
			if name == column {
				found = true
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if found {
			return nil
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, def)); err != nil {
			return fmt.Errorf("add %s.%s column: %w", table, column, err)
		}
		return nil
	}
}
