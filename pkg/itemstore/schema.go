package itemstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the store schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
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

		`CREATE TABLE IF NOT EXISTS jobs (
			job_name TEXT PRIMARY KEY,
			job_kind TEXT NOT NULL,
			model_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			-- leaderboard_id is empty for training and evaluation jobs.
			leaderboard_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			training_logs_location TEXT,
			simulation_logs_location TEXT,
			metrics_location TEXT,
			video_stream_url TEXT,
			evaluation_metrics TEXT,
			created_at TEXT NOT NULL,
			end_time TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_model ON jobs(profile_id, model_id);`,

		`CREATE TABLE IF NOT EXISTS models (
			model_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			artifact_location TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(profile_id, model_id)
		);`,

		`CREATE TABLE IF NOT EXISTS profiles (
			profile_id TEXT PRIMARY KEY,
			alias TEXT NOT NULL,
			avatar TEXT,
			compute_minutes_queued INTEGER NOT NULL DEFAULT 0,
			compute_minutes_used INTEGER NOT NULL DEFAULT 0,
			max_total_compute_minutes INTEGER,
			model_count INTEGER NOT NULL DEFAULT 0,
			max_model_count INTEGER,
			usage_reconciled_at TEXT,
			created_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS account_resource_usage (
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			compute_minutes_queued INTEGER NOT NULL DEFAULT 0,
			compute_minutes_used INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(year, month)
		);`,

		`CREATE TABLE IF NOT EXISTS leaderboards (
			leaderboard_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			minimum_laps INTEGER NOT NULL,
			timing_method TEXT NOT NULL,
			participant_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS submissions (
			leaderboard_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			submission_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			submission_number INTEGER NOT NULL,
			model_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			metrics_location TEXT,
			primary_video_location TEXT,
			stats TEXT,
			ranking_score INTEGER,
			created_at TEXT NOT NULL,
			PRIMARY KEY(leaderboard_id, profile_id, submission_id),
			FOREIGN KEY(leaderboard_id) REFERENCES leaderboards(leaderboard_id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_job ON submissions(leaderboard_id, profile_id, job_name);`,

		`CREATE TABLE IF NOT EXISTS rankings (
			leaderboard_id TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			submission_id TEXT NOT NULL,
			submission_number INTEGER NOT NULL,
			submission_video_location TEXT,
			ranking_score INTEGER NOT NULL,
			stats TEXT NOT NULL,
			user_alias TEXT NOT NULL,
			user_avatar TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(leaderboard_id, profile_id),
			FOREIGN KEY(leaderboard_id) REFERENCES leaderboards(leaderboard_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rankings_score ON rankings(leaderboard_id, ranking_score);`,
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

	// v2: track when a profile's usage counters were last reconciled.
	if current < 2 {
		alters := []string{
			`ALTER TABLE profiles ADD COLUMN usage_reconciled_at TEXT;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				// SQLite/libsql report duplicate columns as an error; treat as idempotent.
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
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
