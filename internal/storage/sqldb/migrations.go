package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var embedMigrations embed.FS

// RunMigrations applies all pending migrations for dialect.
func RunMigrations(ctx context.Context, db *sql.DB, dialect string) error {
	migrations, err := fs.Sub(embedMigrations, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("no migrations for dialect %s: %w", dialect, err)
	}

	provider, err := goose.NewProvider(goose.Dialect(dialect), db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return err
	}
	return nil
}
