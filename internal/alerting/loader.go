package alerting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/emberhq/emberwatch/internal/models"
	"github.com/emberhq/emberwatch/internal/notifier"
)

// reloadDebounce coalesces the burst of fsnotify events an editor or
// atomic rename produces into one reload.
const reloadDebounce = 200 * time.Millisecond

// rulesFile is the YAML shape of the global rules file.
type rulesFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Project      string            `yaml:"project"`
	Type         models.RuleType   `yaml:"type"`
	Environment  string            `yaml:"environment"`
	Fingerprint  string            `yaml:"fingerprint"`
	Threshold    int64             `yaml:"threshold"`
	WindowSecs   int64             `yaml:"window_secs"`
	CooldownSecs int64             `yaml:"cooldown_secs"`
	Channels     []fileRuleChannel `yaml:"channels"`
}

type fileRuleChannel struct {
	Type       models.ChannelType `yaml:"type"`
	WebhookURL string             `yaml:"webhook_url"`
	URL        string             `yaml:"url"`
	To         string             `yaml:"to"`
}

// LoadRulesFile parses and validates the YAML rules file. Rule IDs are
// derived from the rule name so a reload keeps cooldown state for
// unchanged rules.
func LoadRulesFile(path string, log *zap.Logger) ([]*models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return parseRules(data, log)
}

func parseRules(data []byte, log *zap.Logger) ([]*models.AlertRule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules := make([]*models.AlertRule, 0, len(file.Rules))
	seen := make(map[string]struct{}, len(file.Rules))
	for i, fr := range file.Rules {
		rule, err := fr.toAlertRule(log)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, fr.Name, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate name %q", i, fr.Name)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (fr fileRule) toAlertRule(log *zap.Logger) (*models.AlertRule, error) {
	rule := &models.AlertRule{
		ID:          "file:" + fr.Name,
		ProjectID:   fr.Project,
		Name:        fr.Name,
		Description: fr.Description,
		Config: models.RuleConfig{
			Type:        fr.Type,
			Environment: fr.Environment,
			Fingerprint: fr.Fingerprint,
			Threshold:   fr.Threshold,
			WindowSecs:  fr.WindowSecs,
		},
		Enabled:      true,
		CooldownSecs: fr.CooldownSecs,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	for _, ch := range fr.Channels {
		cfg, err := ch.toChannelConfig(fr.Name, log)
		if err != nil {
			return nil, err
		}
		rule.Channels = append(rule.Channels, cfg)
	}
	return rule, nil
}

func (ch fileRuleChannel) toChannelConfig(ruleName string, log *zap.Logger) (models.ChannelConfig, error) {
	checkURL := func(raw string) error {
		insecure, err := notifier.ValidateWebhookURL(raw)
		if err != nil {
			return err
		}
		if insecure {
			log.Warn("rule channel uses plain http",
				zap.String("rule", ruleName), zap.String("url", raw))
		}
		return nil
	}

	switch ch.Type {
	case models.ChannelSlack:
		if err := checkURL(ch.WebhookURL); err != nil {
			return nil, fmt.Errorf("slack channel: %w", err)
		}
		return models.SlackChannel{WebhookURL: ch.WebhookURL}, nil
	case models.ChannelWebhook:
		if err := checkURL(ch.URL); err != nil {
			return nil, fmt.Errorf("webhook channel: %w", err)
		}
		return models.WebhookChannel{URL: ch.URL}, nil
	case models.ChannelEmail:
		if ch.To == "" {
			return nil, fmt.Errorf("email channel: recipient is required")
		}
		return models.EmailChannel{To: ch.To}, nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", ch.Type)
	}
}

// WatchRulesFile reloads the rules file whenever it changes and pushes
// the new set into the engine. A broken edit keeps the previous rules
// in place. Blocks until the context is canceled.
func WatchRulesFile(ctx context.Context, path string, engine *Engine, log *zap.Logger) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve rules file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and config managers replace the
	// file by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch rules directory: %w", err)
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time

	reload := func() {
		rules, err := LoadRulesFile(absPath, log)
		if err != nil {
			log.Error("rules file reload failed, keeping previous rules",
				zap.String("path", absPath), zap.Error(err))
			return
		}
		engine.SetFileRules(rules)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(reloadDebounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("rules file watcher error", zap.Error(err))
		}
	}
}
