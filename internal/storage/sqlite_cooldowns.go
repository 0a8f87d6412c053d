package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type sqliteCooldownRepo struct {
	db *sql.DB
}

// Claim attempts to win the right to fire for (project, rule,
// fingerprint). The insert-or-conditional-update is a single statement:
// either no row exists yet (insert wins), or the existing row is older
// than the cooldown window (the WHERE clause lets the update through).
// RowsAffected is 0 exactly when the window has not elapsed, so two
// concurrent evaluators can never both claim.
func (r *sqliteCooldownRepo) Claim(ctx context.Context, projectID, ruleID, fingerprint string, now, cooldownSecs int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_cooldowns (project_id, rule_id, fingerprint, last_fired)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, rule_id, fingerprint) DO UPDATE SET
			last_fired = excluded.last_fired
		WHERE excluded.last_fired - alert_cooldowns.last_fired >= ?
	`, projectID, ruleID, fingerprint, now, cooldownSecs)
	if err != nil {
		return false, fmt.Errorf("claim cooldown: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim cooldown rows: %w", err)
	}
	return rows == 1, nil
}

// LastFired returns the recorded claim time in unix seconds.
func (r *sqliteCooldownRepo) LastFired(ctx context.Context, projectID, ruleID, fingerprint string) (int64, error) {
	var lastFired int64
	err := r.db.QueryRowContext(ctx, `
		SELECT last_fired FROM alert_cooldowns
		WHERE project_id = ? AND rule_id = ? AND fingerprint = ?
	`, projectID, ruleID, fingerprint).Scan(&lastFired)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read cooldown: %w", err)
	}
	return lastFired, nil
}
