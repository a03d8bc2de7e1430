package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsDir = "migrations"

// Migrate applies embedded SQL migrations in filename order, each once,
// tracked in schema_migrations. Files may hold several statements.
func (db *Database) Migrate(ctx context.Context) error {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var applied bool
		if err := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied {
			continue
		}

		script, err := migrationsFS.ReadFile(migrationsDir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if err := applyScript(ctx, conn, version, string(script)); err != nil {
			return err
		}
		db.logger.Info().Str("migration", version).Msg("Applied migration")
	}
	return nil
}

// applyScript runs the whole file through the simple protocol inside one
// transaction block, then records the version.
func applyScript(ctx context.Context, conn *pgxpool.Conn, version, script string) error {
	record := fmt.Sprintf(
		"INSERT INTO schema_migrations (version) VALUES ('%s');",
		strings.ReplaceAll(version, "'", "''"),
	)
	body := "BEGIN;\n" + strings.TrimSpace(script) + "\n" + record + "\nCOMMIT;"

	results, err := conn.Conn().PgConn().Exec(ctx, body).ReadAll()
	if err != nil {
		_, _ = conn.Exec(ctx, "ROLLBACK")
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return fmt.Errorf("apply migration %s: %s (%s)", version, pgErr.Message, pgErr.Code)
		}
		return fmt.Errorf("apply migration %s: %w", version, err)
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("apply migration %s: %w", version, r.Err)
		}
	}
	return nil
}
