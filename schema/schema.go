// Package schema owns the till's relational schema, including the
// constraint triggers that enforce the ledger invariants inside the store.
package schema

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Ensure applies the schema. It is safe to run repeatedly; tables and
// indexes are created only when missing and triggers are replaced in place.
func Ensure(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema: ensure: %w", err)
	}
	return nil
}
