package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Projects (tenants)
			CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				api_key TEXT UNIQUE NOT NULL,
				created_at DATETIME NOT NULL
			);

			-- Raw events. timestamp is unix milliseconds.
			CREATE TABLE IF NOT EXISTS raw_events (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				error_type TEXT NOT NULL,
				message TEXT NOT NULL,
				stack TEXT,
				metadata TEXT,
				environment TEXT NOT NULL,
				-- "release" is a reserved word in SQLite, hence the quotes.
				"release" TEXT NOT NULL,
				source TEXT,
				route TEXT,
				timestamp INTEGER NOT NULL
			);

			-- Per-fingerprint aggregates: the durable counterpart of the
			-- in-memory aggregation cache. first_seen/last_seen are unix
			-- milliseconds.
			CREATE TABLE IF NOT EXISTS event_aggregates (
				project_id TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				count INTEGER NOT NULL DEFAULT 0,
				first_seen INTEGER NOT NULL,
				last_seen INTEGER NOT NULL,
				PRIMARY KEY (project_id, fingerprint)
			);

			-- Hourly rollups. hour_bucket is unix milliseconds truncated
			-- to the hour.
			CREATE TABLE IF NOT EXISTS event_counts_hourly (
				project_id TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				hour_bucket INTEGER NOT NULL,
				count INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (project_id, fingerprint, hour_bucket)
			);

			-- Alert rules. config is the JSON rule condition.
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				rule_type TEXT NOT NULL,
				config TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				project_id TEXT,
				description TEXT,
				cooldown_secs INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Notification channels per rule. config is the tagged JSON
			-- channel form.
			CREATE TABLE IF NOT EXISTS alert_channels (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				rule_id TEXT NOT NULL,
				channel_type TEXT NOT NULL,
				config TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE
			);

			-- Cooldown claims. last_fired is unix SECONDS.
			CREATE TABLE IF NOT EXISTS alert_cooldowns (
				project_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				last_fired INTEGER NOT NULL,
				PRIMARY KEY (project_id, rule_id, fingerprint)
			);

			-- Global retention settings (value is days, stored as text).
			CREATE TABLE IF NOT EXISTS retention_settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			-- Per-tenant retention overrides.
			CREATE TABLE IF NOT EXISTS project_retention (
				project_id TEXT PRIMARY KEY,
				raw_events_days INTEGER NOT NULL
			);

			-- Auxiliary time-bucketed tables pruned by retention.
			-- hour_bucket/created_at are unix milliseconds.
			CREATE TABLE IF NOT EXISTS usage_hourly (
				project_id TEXT NOT NULL,
				hour_bucket INTEGER NOT NULL,
				events INTEGER NOT NULL DEFAULT 0,
				bytes INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (project_id, hour_bucket)
			);

			CREATE TABLE IF NOT EXISTS trace_scores (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				trace_id TEXT NOT NULL,
				name TEXT NOT NULL,
				score REAL NOT NULL,
				created_at INTEGER NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_raw_events_project_ts ON raw_events(project_id, timestamp);
			CREATE INDEX IF NOT EXISTS idx_raw_events_fingerprint ON raw_events(fingerprint);
			CREATE INDEX IF NOT EXISTS idx_raw_events_ts ON raw_events(timestamp);
			CREATE INDEX IF NOT EXISTS idx_alert_rules_project ON alert_rules(project_id);
			CREATE INDEX IF NOT EXISTS idx_alert_rules_enabled ON alert_rules(enabled);
			CREATE INDEX IF NOT EXISTS idx_alert_channels_rule ON alert_channels(rule_id);
			CREATE INDEX IF NOT EXISTS idx_hourly_bucket ON event_counts_hourly(hour_bucket);
			CREATE INDEX IF NOT EXISTS idx_usage_bucket ON usage_hourly(hour_bucket);
			CREATE INDEX IF NOT EXISTS idx_trace_scores_created ON trace_scores(created_at);
			CREATE INDEX IF NOT EXISTS idx_cooldowns_last_fired ON alert_cooldowns(last_fired);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
