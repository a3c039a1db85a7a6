package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaVersion = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cronsync_tasks (
		tenant          TEXT        NOT NULL,
		name            TEXT        NOT NULL,
		code_interval   TEXT        NOT NULL,
		manual_interval TEXT        NOT NULL DEFAULT '',
		steps           JSONB       NOT NULL DEFAULT '[]',
		timeout         BIGINT      NOT NULL DEFAULT 0,
		enabled         BOOLEAN     NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant, name)
	)`,

	`CREATE INDEX IF NOT EXISTS cronsync_tasks_enabled_idx ON cronsync_tasks (name) WHERE enabled`,

	`CREATE TABLE IF NOT EXISTS cronsync_task_history (
		id         BIGSERIAL   PRIMARY KEY,
		tenant     TEXT        NOT NULL,
		name       TEXT        NOT NULL,
		run_id     TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS cronsync_task_history_task_idx ON cronsync_task_history (tenant, name, id DESC)`,

	`CREATE TABLE IF NOT EXISTS cronsync_watermark (
		id           SMALLINT    PRIMARY KEY CHECK (id = 1),
		last_checked TIMESTAMPTZ NOT NULL
	)`,
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS cronsync_schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("postgres: create schema_version: %w", err)
	}

	current, err := currentVersion(ctx, pool)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin migrate tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w\nstatement: %s", err, stmt)
		}
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO cronsync_schema_version (version) VALUES ($1) ON CONFLICT DO NOTHING", schemaVersion,
	); err != nil {
		return fmt.Errorf("postgres: record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

// currentVersion returns 0 when the version table does not exist.
func currentVersion(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var exists bool
	if err := pool.QueryRow(ctx,
		"SELECT to_regclass('cronsync_schema_version') IS NOT NULL",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("postgres: inspect schema: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var v int
	if err := pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM cronsync_schema_version",
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("postgres: read schema version: %w", err)
	}
	return v, nil
}
