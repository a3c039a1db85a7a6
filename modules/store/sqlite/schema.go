package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements create the task schema. All use IF NOT EXISTS.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		tenant          TEXT    NOT NULL,
		name            TEXT    NOT NULL,
		code_interval   TEXT    NOT NULL,
		manual_interval TEXT    NOT NULL DEFAULT '',
		steps           TEXT    NOT NULL DEFAULT '[]',
		timeout         INTEGER NOT NULL DEFAULT 0,
		enabled         INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at      TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (tenant, name)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_enabled ON tasks(enabled, name)`,

	`CREATE TABLE IF NOT EXISTS task_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant     TEXT NOT NULL,
		name       TEXT NOT NULL,
		run_id     TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(tenant, name, id)`,

	`CREATE TABLE IF NOT EXISTS watermark (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		last_checked TEXT NOT NULL
	)`,
}

// migrate creates or updates the database schema to the latest version.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migrate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return tx.Commit()
}

// currentVersion returns 0 when the schema_version table is missing.
func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("sqlite: inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: read schema version: %w", err)
	}
	return v, nil
}
