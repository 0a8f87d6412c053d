package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type sqliteRetentionRepo struct {
	db *sql.DB
}

// Retention setting keys.
const (
	SettingRawEventsDays    = "raw_events_days"
	SettingHourlyCountsDays = "hourly_counts_days"
)

func (r *sqliteRetentionRepo) GlobalSetting(ctx context.Context, key string) (int64, bool) {
	var value string
	err := r.db.QueryRowContext(ctx,
		"SELECT value FROM retention_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return 0, false
	}
	days, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

func (r *sqliteRetentionRepo) SetGlobalSetting(ctx context.Context, key string, days int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, strconv.FormatInt(days, 10))
	if err != nil {
		return fmt.Errorf("set retention setting: %w", err)
	}
	return nil
}

func (r *sqliteRetentionRepo) ProjectOverrides(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT project_id, raw_events_days FROM project_retention")
	if err != nil {
		return nil, fmt.Errorf("list retention overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]int64)
	for rows.Next() {
		var (
			projectID string
			days      int64
		)
		if err := rows.Scan(&projectID, &days); err != nil {
			return nil, fmt.Errorf("scan retention override: %w", err)
		}
		overrides[projectID] = days
	}
	return overrides, rows.Err()
}

func (r *sqliteRetentionRepo) SetProjectOverride(ctx context.Context, projectID string, days int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO project_retention (project_id, raw_events_days) VALUES (?, ?)
		ON CONFLICT (project_id) DO UPDATE SET raw_events_days = excluded.raw_events_days
	`, projectID, days)
	if err != nil {
		return fmt.Errorf("set retention override: %w", err)
	}
	return nil
}

func (r *sqliteRetentionRepo) DeleteRawEventsForProject(ctx context.Context, projectID string, cutoff int64) (int64, error) {
	return r.deleteRows(ctx,
		"DELETE FROM raw_events WHERE project_id = ? AND timestamp < ?", projectID, cutoff)
}

// DeleteRawEventsExcept prunes every tenant without an override in one
// statement, so the query count stays flat as tenants grow.
func (r *sqliteRetentionRepo) DeleteRawEventsExcept(ctx context.Context, excluded []string, cutoff int64) (int64, error) {
	if len(excluded) == 0 {
		return r.deleteRows(ctx, "DELETE FROM raw_events WHERE timestamp < ?", cutoff)
	}

	placeholders := strings.Repeat("?,", len(excluded))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(
		"DELETE FROM raw_events WHERE timestamp < ? AND project_id NOT IN (%s)", placeholders)

	args := make([]any, 0, len(excluded)+1)
	args = append(args, cutoff)
	for _, id := range excluded {
		args = append(args, id)
	}
	return r.deleteRows(ctx, query, args...)
}

func (r *sqliteRetentionRepo) DeleteHourlyCounts(ctx context.Context, cutoff int64) (int64, error) {
	return r.deleteRows(ctx, "DELETE FROM event_counts_hourly WHERE hour_bucket < ?", cutoff)
}

func (r *sqliteRetentionRepo) DeleteUsageHourly(ctx context.Context, cutoff int64) (int64, error) {
	return r.deleteRows(ctx, "DELETE FROM usage_hourly WHERE hour_bucket < ?", cutoff)
}

func (r *sqliteRetentionRepo) DeleteTraceScores(ctx context.Context, cutoff int64) (int64, error) {
	return r.deleteRows(ctx, "DELETE FROM trace_scores WHERE created_at < ?", cutoff)
}

func (r *sqliteRetentionRepo) DeleteCooldowns(ctx context.Context, cutoffSecs int64) (int64, error) {
	return r.deleteRows(ctx, "DELETE FROM alert_cooldowns WHERE last_fired < ?", cutoffSecs)
}

func (r *sqliteRetentionRepo) Vacuum(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (r *sqliteRetentionRepo) deleteRows(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retention delete: %w", err)
	}
	return result.RowsAffected()
}
