package storage

import (
	"context"
	"database/sql"
	"fmt"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	projects  *sqliteProjectRepo
	events    *sqliteEventRepo
	rules     *sqliteAlertRuleRepo
	cooldowns *sqliteCooldownRepo
	retention *sqliteRetentionRepo
}

// NewSQLiteStorage creates a new SQLite storage rooted at path.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer: one pooled connection keeps writers from
	// tripping over SQLITE_BUSY while bounding store concurrency.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	s.projects = &sqliteProjectRepo{db: db}
	s.events = &sqliteEventRepo{db: db}
	s.rules = &sqliteAlertRuleRepo{db: db}
	s.cooldowns = &sqliteCooldownRepo{db: db}
	s.retention = &sqliteRetentionRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database handle for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Projects returns the project repository.
func (s *SQLiteStorage) Projects() ProjectRepository { return s.projects }

// Events returns the event repository.
func (s *SQLiteStorage) Events() EventRepository { return s.events }

// AlertRules returns the alert rule repository.
func (s *SQLiteStorage) AlertRules() AlertRuleRepository { return s.rules }

// Cooldowns returns the cooldown repository.
func (s *SQLiteStorage) Cooldowns() CooldownRepository { return s.cooldowns }

// Retention returns the retention repository.
func (s *SQLiteStorage) Retention() RetentionRepository { return s.retention }
