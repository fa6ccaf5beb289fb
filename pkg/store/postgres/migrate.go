package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agencyos/textline/pkg/logger"
)

//go:embed schema.sql
var schema string

// Migrate applies the embedded schema. Every statement is idempotent,
// so running it on every startup is safe.
func Migrate(ctx context.Context, url string) error {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("connecting for migration: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	logger.InfoCF("store", "Schema migration applied", nil)
	return nil
}
