package persistence

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigratePostgres brings the hosted schema up to date and returns the
// versions it applied.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) ([]int64, error) {
	db := stdlib.OpenDBFromPool(pool)
	// Connections go back to the pool after each statement; the pool stays
	// owned by the caller.
	db.SetMaxIdleConns(0)
	return migrate(ctx, goose.DialectPostgres, db, "migrations/postgres")
}

func migrate(ctx context.Context, dialect goose.Dialect, db *sql.DB, dir string) ([]int64, error) {
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded migrations")
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migration provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply migrations")
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}
