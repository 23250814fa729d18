package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	schema "github.com/samarth3282/trello-api/db"
)

// Connect opens the database, applies the embedded migrations for its
// dialect and returns a ready store.
func Connect(ctx context.Context, databaseURL string) (*SQLStore, error) {
	db, dialect, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, db, dialect, schema.Migrations, dialect.MigrationsDir()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect), nil
}

// Open connects to PostgreSQL for postgres:// URLs and to an embedded SQLite
// database for sqlite:// and file: URLs.
func Open(ctx context.Context, databaseURL string) (*sql.DB, Dialect, error) {
	dialect, driver, dsn := parseDatabaseURL(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}
	if dialect == SQLite {
		// single writer; keeps in-process tests free of SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping db: %w", err)
	}
	return db, dialect, nil
}

func parseDatabaseURL(databaseURL string) (Dialect, string, string) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return SQLite, "sqlite", withSQLitePragmas(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.HasPrefix(databaseURL, "file:"), databaseURL == ":memory:":
		return SQLite, "sqlite", withSQLitePragmas(databaseURL)
	default:
		return Postgres, "pgx", databaseURL
	}
}

func withSQLitePragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
}
