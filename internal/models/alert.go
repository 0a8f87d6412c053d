package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType defines the kind of alert rule.
type RuleType string

const (
	// RuleNewIssue fires the first time a fingerprint is seen.
	RuleNewIssue RuleType = "new_issue"
	// RuleThreshold fires when a fingerprint's count crosses a
	// threshold within a time window.
	RuleThreshold RuleType = "threshold"
)

// RuleConfig is the per-type condition of an alert rule. Only the
// fields belonging to Type are meaningful; Validate enforces that.
type RuleConfig struct {
	Type RuleType `json:"type" yaml:"type"`

	// Environment restricts a new_issue rule to one environment.
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Fingerprint restricts a threshold rule to one fingerprint.
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	// Threshold is the count that triggers the alert.
	Threshold int64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// WindowSecs is the counting window in seconds.
	WindowSecs int64 `json:"window_secs,omitempty" yaml:"window_secs,omitempty"`
}

// Validate checks the config against its declared type.
func (c *RuleConfig) Validate() error {
	switch c.Type {
	case RuleNewIssue:
		return nil
	case RuleThreshold:
		if c.Threshold <= 0 {
			return fmt.Errorf("threshold must be positive")
		}
		if c.WindowSecs <= 0 {
			return fmt.Errorf("window_secs must be positive")
		}
		return nil
	default:
		return fmt.Errorf("unknown rule type %q", c.Type)
	}
}

// DecodeRuleConfig parses and validates the JSON form of a rule config.
func DecodeRuleConfig(data []byte) (RuleConfig, error) {
	var c RuleConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return RuleConfig{}, fmt.Errorf("decode rule config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return c, nil
}

// AlertRule is a tenant-scoped alerting rule. An empty ProjectID makes
// the rule global: it applies to every tenant.
type AlertRule struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id,omitempty"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Config       RuleConfig `json:"config"`
	Enabled      bool       `json:"enabled"`
	CooldownSecs int64      `json:"cooldown_secs,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Channels configured for this rule. Empty means the dispatcher
	// falls back to the default channel set.
	Channels []ChannelConfig `json:"channels,omitempty"`
}

// Validate checks the rule for storage.
func (r *AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if err := r.Config.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.CooldownSecs < 0 {
		return fmt.Errorf("rule %q: cooldown must not be negative", r.Name)
	}
	return nil
}
