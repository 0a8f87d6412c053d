// Package main provides the emberwatch server CLI.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Retention RetentionConfig `yaml:"retention"`
	SMTP      SMTPConfig      `yaml:"smtp"`

	Environment string `yaml:"environment"` // "production" switches to JSON logs
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress string `yaml:"http_address"` // HTTP listen address (default: :8080)
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// IngestConfig bounds inbound payloads and the intake channel.
type IngestConfig struct {
	MaxPayloadBytes  int64 `yaml:"max_payload_bytes"`  // whole-body cap at the auth gate
	MaxMessageBytes  int   `yaml:"max_message_bytes"`  // per-event message cap
	MaxStackBytes    int   `yaml:"max_stack_bytes"`    // per-event stack cap
	MaxMetadataBytes int   `yaml:"max_metadata_bytes"` // per-event metadata cap
	MaxBatchSize     int   `yaml:"max_batch_size"`     // events per batch request
	ChannelCapacity  int   `yaml:"channel_capacity"`   // intake channel buffer
}

// PipelineConfig tunes the storage flush.
type PipelineConfig struct {
	FlushBatchSize    int   `yaml:"flush_batch_size"`
	FlushIntervalSecs int64 `yaml:"flush_interval_secs"`
	CacheCapacity     int   `yaml:"cache_capacity"`  // aggregation cache entries per shard
	CacheTTLSecs      int64 `yaml:"cache_ttl_secs"`  // aggregation entry lifetime
	NoticeCapacity    int   `yaml:"notice_capacity"` // alert notice channel buffer
}

// AuthConfig configures the ingest authenticator. The legacy shared
// secret is read from EMBERWATCH_HMAC_SECRET, never from this file.
type AuthConfig struct {
	KeyCacheSize    int   `yaml:"key_cache_size"`
	KeyCacheTTLSecs int64 `yaml:"key_cache_ttl_secs"`
}

// RateLimitConfig is the per-tenant ingest rate limit.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// AlertingConfig configures the alert engine.
type AlertingConfig struct {
	DefaultCooldownSecs int64           `yaml:"default_cooldown_secs"`
	RulesFile           string          `yaml:"rules_file"` // optional YAML rules, hot-reloaded
	DefaultChannels     []ChannelConfig `yaml:"default_channels"`
}

// ChannelConfig is the YAML form of a notification channel.
type ChannelConfig struct {
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	URL        string `yaml:"url"`
	To         string `yaml:"to"`
}

// RetentionConfig configures the retention sweep.
type RetentionConfig struct {
	RawEventsDays   int64 `yaml:"raw_events_days"`
	HourlyDays      int64 `yaml:"hourly_days"`
	IntervalSecs    int64 `yaml:"interval_secs"`
	VacuumThreshold int64 `yaml:"vacuum_threshold"`
}

// SMTPConfig configures the mail transport. The password is read from
// EMBERWATCH_SMTP_PASSWORD.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	From     string `yaml:"from"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/emberwatch.db"
	}
	if c.Ingest.MaxPayloadBytes <= 0 {
		c.Ingest.MaxPayloadBytes = 64 << 10
	}
	if c.Ingest.MaxMessageBytes <= 0 {
		c.Ingest.MaxMessageBytes = 4 << 10
	}
	if c.Ingest.MaxStackBytes <= 0 {
		c.Ingest.MaxStackBytes = 32 << 10
	}
	if c.Ingest.MaxMetadataBytes <= 0 {
		c.Ingest.MaxMetadataBytes = 16 << 10
	}
	if c.Ingest.MaxBatchSize <= 0 {
		c.Ingest.MaxBatchSize = 50
	}
	if c.Ingest.ChannelCapacity <= 0 {
		c.Ingest.ChannelCapacity = 10000
	}
	if c.Pipeline.FlushBatchSize <= 0 {
		c.Pipeline.FlushBatchSize = 100
	}
	if c.Pipeline.FlushIntervalSecs <= 0 {
		c.Pipeline.FlushIntervalSecs = 5
	}
	if c.Pipeline.CacheCapacity <= 0 {
		c.Pipeline.CacheCapacity = 100000
	}
	if c.Pipeline.CacheTTLSecs <= 0 {
		c.Pipeline.CacheTTLSecs = 24 * 3600
	}
	if c.Pipeline.NoticeCapacity <= 0 {
		c.Pipeline.NoticeCapacity = 1000
	}
	if c.Auth.KeyCacheSize <= 0 {
		c.Auth.KeyCacheSize = 1000
	}
	if c.Auth.KeyCacheTTLSecs <= 0 {
		c.Auth.KeyCacheTTLSecs = 300
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 100
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 200
	}
	if c.Alerting.DefaultCooldownSecs <= 0 {
		c.Alerting.DefaultCooldownSecs = 300
	}
	if c.Retention.RawEventsDays <= 0 {
		c.Retention.RawEventsDays = 30
	}
	if c.Retention.HourlyDays <= 0 {
		c.Retention.HourlyDays = 90
	}
	if c.Retention.IntervalSecs <= 0 {
		c.Retention.IntervalSecs = 3600
	}
	if c.Retention.VacuumThreshold <= 0 {
		c.Retention.VacuumThreshold = 10000
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required when SMTP is enabled")
		}
		if c.SMTP.Port == 0 {
			return fmt.Errorf("smtp.port is required when SMTP is enabled")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required when SMTP is enabled")
		}
	}
	for i, ch := range c.Alerting.DefaultChannels {
		switch ch.Type {
		case "slack":
			if ch.WebhookURL == "" {
				return fmt.Errorf("alerting.default_channels[%d]: webhook_url is required", i)
			}
		case "webhook":
			if ch.URL == "" {
				return fmt.Errorf("alerting.default_channels[%d]: url is required", i)
			}
		case "email":
			if ch.To == "" {
				return fmt.Errorf("alerting.default_channels[%d]: to is required", i)
			}
		default:
			return fmt.Errorf("alerting.default_channels[%d]: unknown type %q", i, ch.Type)
		}
	}
	return nil
}
