package history

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema revision.
const SchemaVersion = 1

// Migrate creates the history schema in place. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			job_root TEXT NOT NULL,
			selected_job TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			attempted INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,

		`CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			job TEXT NOT NULL,
			backend TEXT NOT NULL,
			mode TEXT,
			file TEXT NOT NULL,
			validation_rules_path TEXT,
			provider_job_id TEXT,
			download_successful INTEGER NOT NULL,
			-- NULL when the download failed (infinite time to result).
			time_to_result_seconds REAL,
			error_code TEXT,
			error TEXT,
			poll_attempts INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY(run_id, job, backend),
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_job ON outcomes(job);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_backend ON outcomes(backend);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
