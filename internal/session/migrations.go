package session

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// runMigrations brings the credentials schema up to date.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	scripts, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("session: opening embedded schema: %w", err)
	}

	p, err := goose.NewProvider(goose.DialectSQLite3, db, scripts)
	if err != nil {
		return fmt.Errorf("session: preparing schema migrations: %w", err)
	}

	applied, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("session: migrating schema: %w", err)
	}

	if len(applied) == 0 {
		return nil
	}

	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("session: reading schema version: %w", err)
	}

	logger.Debug("session schema migrated",
		slog.Int("applied", len(applied)),
		slog.Int64("version", version),
	)

	return nil
}
