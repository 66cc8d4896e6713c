// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/approval-workflow/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x4150525f4d494752 // "APR_MIGR"

// ErrMigrationChecksum is returned when an applied migration no longer
// matches the embedded file with the same version.
var ErrMigrationChecksum = errors.New("applied migration checksum mismatch")

var requiredTables = []string{
	"workflow_templates",
	"workflow_template_steps",
	"workflow_instances",
	"workflow_instance_steps",
	"events",
}

// table.column pairs added after the first release of each table.
var requiredColumns = [][2]string{
	{"workflow_instances", "attributes"},
	{"workflow_instance_steps", "overdue_notified_at"},
	{"events", "step_index"},
}

type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

type appliedMigration struct {
	Version  int
	Filename string
	Checksum string
}

// EnsureSchema applies pending embedded migrations under a session advisory
// lock so concurrent API replicas do not race.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	migrations, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(migrations) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("release migration lock failed", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		prev, ok := applied[m.Version]
		if ok {
			if prev.Checksum != m.Checksum {
				return fmt.Errorf("%w: version %d (%s)", ErrMigrationChecksum, m.Version, m.Name)
			}
			delete(applied, m.Version)
			continue
		}

		logger.Info("applying migration", "version", m.Version, "file", m.Name)
		if err := applyMigration(ctx, conn, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		pending++
	}

	// Whatever is left was applied by a newer binary.
	for version, m := range applied {
		logger.Warn("database has migration unknown to this build", "version", version, "file", m.Filename)
	}

	logger.Info("schema up to date",
		"applied", pending,
		"total", len(migrations),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func loadApplied(ctx context.Context, conn *pgxpool.Conn) (map[int]appliedMigration, error) {
	rows, err := conn.Query(ctx, `SELECT version, filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[appliedMigration])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}

	out := make(map[int]appliedMigration, len(list))
	for _, m := range list {
		out[m.Version] = m
	}
	return out, nil
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, m embeddedmigrations.File) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, m.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, filename, checksum)
		VALUES ($1, $2, $3)
	`, m.Version, m.Name, m.Checksum); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SchemaReady reports missing tables or columns the repositories rely on.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	rows, err := pool.Query(ctx, `
		SELECT t
		FROM unnest($1::text[]) AS t
		WHERE to_regclass('public.' || t) IS NULL
	`, requiredTables)
	if err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missing, ", "))
	}

	tables := make([]string, 0, len(requiredColumns))
	columns := make([]string, 0, len(requiredColumns))
	for _, c := range requiredColumns {
		tables = append(tables, c[0])
		columns = append(columns, c[1])
	}

	rows, err = pool.Query(ctx, `
		SELECT c.tbl || '.' || c.col
		FROM unnest($1::text[], $2::text[]) AS c(tbl, col)
		WHERE NOT EXISTS (
			SELECT 1
			FROM information_schema.columns ic
			WHERE ic.table_schema = 'public'
			  AND ic.table_name = c.tbl
			  AND ic.column_name = c.col
		)
	`, tables, columns)
	if err != nil {
		return fmt.Errorf("check columns: %w", err)
	}
	missing, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("check columns: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missing, ", "))
	}

	return nil
}
