package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Options configures Open.
type Options struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	URL    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type Database struct {
	DB      *sql.DB
	Dialect string
}

// Open connects to the database, checks the connection and runs migrations.
func Open(ctx context.Context, opts Options) (*Database, error) {
	dialect, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := RunMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{
		DB:      db,
		Dialect: dialect,
	}, nil
}

// Close closes the underlying pool.
func (d *Database) Close() error {
	return d.DB.Close()
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
