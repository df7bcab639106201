package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/athena-ai/dashboard/internal/schema"
)

// OpenSQLite opens (or creates) the desktop database at path, enables WAL
// journal mode and applies the schema. ":memory:" gives a private database
// that is lost on Close, which is what the tests use.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// One writer at a time. A single pooled connection serialises every
	// statement and keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &SQL{db: db, dialect: schema.SQLite}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return s, nil
}
