// Package storage provides the persistent store interfaces and their
// SQLite implementation.
package storage

import (
	"context"
	"errors"

	"github.com/emberhq/emberwatch/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Projects() ProjectRepository
	Events() EventRepository
	AlertRules() AlertRuleRepository
	Cooldowns() CooldownRepository
	Retention() RetentionRepository
}

// ProjectRepository defines operations for tenant management.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
	Count(ctx context.Context) (int64, error)
}

// EventRepository defines operations on persisted telemetry.
type EventRepository interface {
	// WriteBatch persists raw events, upserts the per-fingerprint
	// aggregates and bumps hourly rollups, all in one transaction.
	WriteBatch(ctx context.Context, events []*models.ProcessedEvent) error
	// AggregateSnapshot returns the persisted aggregate row.
	AggregateSnapshot(ctx context.Context, projectID, fingerprint string) (*models.AggregateRow, error)
	// CountRawEvents reports the number of stored raw events for a
	// project ("" counts all projects).
	CountRawEvents(ctx context.Context, projectID string) (int64, error)
}

// AlertRuleRepository defines operations for alert rule storage. Rule
// CRUD beyond what seeding and tests need is out of scope.
type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	// ListEnabledForProject returns enabled rules scoped to the project
	// plus global rules (empty project id), channels populated.
	ListEnabledForProject(ctx context.Context, projectID string) ([]*models.AlertRule, error)
	AddChannel(ctx context.Context, ruleID string, cfg models.ChannelConfig) error
}

// CooldownRepository gates duplicate alert firing.
type CooldownRepository interface {
	// Claim atomically claims the right to fire for
	// (project, rule, fingerprint). It succeeds only when no cooldown
	// row exists or now-lastFired >= cooldownSecs, setting
	// last_fired = now as part of the same write. Exactly one of any
	// set of concurrent claims within a window succeeds.
	Claim(ctx context.Context, projectID, ruleID, fingerprint string, now, cooldownSecs int64) (bool, error)
	// LastFired returns the recorded claim time in unix seconds.
	LastFired(ctx context.Context, projectID, ruleID, fingerprint string) (int64, error)
}

// RetentionRepository exposes the retention manager's reads and
// bulk deletes. Cutoffs are unix milliseconds unless noted.
type RetentionRepository interface {
	// GlobalSetting reads a retention_settings value as days; ok is
	// false when the key is missing or not a positive integer.
	GlobalSetting(ctx context.Context, key string) (days int64, ok bool)
	SetGlobalSetting(ctx context.Context, key string, days int64) error

	// ProjectOverrides returns project_id -> raw_events_days.
	ProjectOverrides(ctx context.Context) (map[string]int64, error)
	SetProjectOverride(ctx context.Context, projectID string, days int64) error

	DeleteRawEventsForProject(ctx context.Context, projectID string, cutoff int64) (int64, error)
	// DeleteRawEventsExcept deletes rows older than cutoff for every
	// project not in excluded, as a single statement.
	DeleteRawEventsExcept(ctx context.Context, excluded []string, cutoff int64) (int64, error)
	DeleteHourlyCounts(ctx context.Context, cutoff int64) (int64, error)
	DeleteUsageHourly(ctx context.Context, cutoff int64) (int64, error)
	DeleteTraceScores(ctx context.Context, cutoff int64) (int64, error)
	// DeleteCooldowns takes a cutoff in unix seconds: the cooldown
	// table stores seconds, not milliseconds.
	DeleteCooldowns(ctx context.Context, cutoffSecs int64) (int64, error)

	// Vacuum compacts the store after large deletions.
	Vacuum(ctx context.Context) error
}
