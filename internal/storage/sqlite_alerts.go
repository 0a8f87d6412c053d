package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emberhq/emberwatch/internal/models"
)

type sqliteAlertRuleRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alert_rules
			(id, name, rule_type, config, enabled, project_id, description,
			 cooldown_secs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID, rule.Name, string(rule.Config.Type), string(configJSON),
		boolToInt(rule.Enabled), nullIfEmpty(rule.ProjectID), nullIfEmpty(rule.Description),
		rule.CooldownSecs, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}

	for _, ch := range rule.Channels {
		if err := r.AddChannel(ctx, rule.ID, ch); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteAlertRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteAlertRuleRepo) ListEnabledForProject(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, config, enabled, COALESCE(project_id, ''),
			COALESCE(description, ''), cooldown_secs, created_at, updated_at
		FROM alert_rules
		WHERE enabled = 1 AND (project_id = ? OR project_id IS NULL)
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		var (
			rule       models.AlertRule
			configJSON string
			enabled    int
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &configJSON, &enabled,
			&rule.ProjectID, &rule.Description, &rule.CooldownSecs,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		rule.Enabled = enabled != 0

		config, err := models.DecodeRuleConfig([]byte(configJSON))
		if err != nil {
			// A malformed row must not block the remaining rules.
			continue
		}
		rule.Config = config
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		channels, err := r.channelsForRule(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
		rule.Channels = channels
	}
	return rules, nil
}

func (r *sqliteAlertRuleRepo) AddChannel(ctx context.Context, ruleID string, cfg models.ChannelConfig) error {
	configJSON, err := models.EncodeChannelConfig(cfg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alert_channels (rule_id, channel_type, config, created_at)
		VALUES (?, ?, ?, ?)
	`, ruleID, string(cfg.Type()), string(configJSON), time.Now())
	if err != nil {
		return fmt.Errorf("insert alert channel: %w", err)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) channelsForRule(ctx context.Context, ruleID string) ([]models.ChannelConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT config FROM alert_channels WHERE rule_id = ? ORDER BY id", ruleID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []models.ChannelConfig
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		cfg, err := models.DecodeChannelConfig([]byte(configJSON))
		if err != nil {
			continue
		}
		channels = append(channels, cfg)
	}
	return channels, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
