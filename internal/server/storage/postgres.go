package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/athena-ai/dashboard/internal/schema"
)

// OpenPostgres opens a pgxpool connection to connStr, pings the database and
// applies the schema. The pool is exposed to the shared SQL backend through
// pgx's database/sql adapter so both dialects run the same statements.
func OpenPostgres(ctx context.Context, connStr string) (*SQL, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	s := &SQL{db: db, dialect: schema.Postgres, onClose: pool.Close}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return s, nil
}
