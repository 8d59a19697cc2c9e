package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/001_identity.up.sql
var identitySchemaSQL string

var requiredTables = []string{
	"users",
	"user_sessions",
	"verification_tokens",
}

// EnsureSchema applies the identity schema when any of its tables is missing.
// The DDL is idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	if pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	present, err := hasAllRequiredTables(ctx, pool)
	if err != nil {
		return fmt.Errorf("check existing tables: %w", err)
	}
	if present {
		log.Debug().Msg("database schema present")
		return nil
	}

	log.Info().Msg("database schema incomplete; applying identity migration")
	if _, err := pool.Exec(ctx, identitySchemaSQL); err != nil {
		return fmt.Errorf("apply identity migration: %w", err)
	}

	present, err = hasAllRequiredTables(ctx, pool)
	if err != nil {
		return fmt.Errorf("re-check tables after migration: %w", err)
	}
	if !present {
		return fmt.Errorf("schema initialization incomplete: required tables are still missing")
	}

	log.Info().Msg("database schema ensured")
	return nil
}

func hasAllRequiredTables(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name = ANY($1)
	`, requiredTables).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == len(requiredTables), nil
}
