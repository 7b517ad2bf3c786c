package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the embedded Postgres schema.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	return applyMigrations(ctx, "migrations/postgres", func(ctx context.Context, sql string) error {
		_, err := p.Exec(ctx, sql)
		return err
	})
}
