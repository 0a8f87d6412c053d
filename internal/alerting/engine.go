// Package alerting evaluates aggregated events against alert rules and
// hands firing decisions to the notifier.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/metrics"
	"github.com/emberhq/emberwatch/internal/models"
	"github.com/emberhq/emberwatch/internal/pipeline"
	"github.com/emberhq/emberwatch/internal/storage"
)

// ruleCacheTTL bounds how stale the per-project rule list may get.
// Rule edits land within this interval without a per-event query.
const ruleCacheTTL = 30 * time.Second

// sweepInterval paces the window garbage sweep.
const sweepInterval = 5 * time.Minute

// Notifier delivers a firing decision to its channels. Satisfied by
// notifier.Dispatcher.
type Notifier interface {
	DispatchToChannels(ctx context.Context, ruleName, message string, channels []models.ChannelConfig)
}

// Config configures the alert engine.
type Config struct {
	// DefaultCooldownSecs applies to rules without their own cooldown.
	DefaultCooldownSecs int64
	// DefaultChannels receive alerts from rules with no channels of
	// their own.
	DefaultChannels []models.ChannelConfig
}

// Engine consumes event notices from the pipeline, evaluates every
// enabled rule for the event's project and fires through the cooldown
// gate. The cooldown claim is a single conditional store write, so
// concurrent evaluations of the same (rule, fingerprint) cannot
// double-fire.
type Engine struct {
	rules     storage.AlertRuleRepository
	cooldowns storage.CooldownRepository
	notify    Notifier
	config    Config
	log       *zap.Logger
	now       func() time.Time

	windows *windowSet

	// fileRules come from the hot-reloaded rules file and are merged
	// with store rules at evaluation time.
	fileMu    sync.RWMutex
	fileRules []*models.AlertRule

	cacheMu   sync.Mutex
	ruleCache map[string]cachedRules
}

type cachedRules struct {
	rules    []*models.AlertRule
	loadedAt time.Time
}

// NewEngine creates an alert engine.
func NewEngine(
	rules storage.AlertRuleRepository,
	cooldowns storage.CooldownRepository,
	notify Notifier,
	config Config,
	log *zap.Logger,
) *Engine {
	return &Engine{
		rules:     rules,
		cooldowns: cooldowns,
		notify:    notify,
		config:    config,
		log:       log,
		now:       time.Now,
		windows:   newWindowSet(),
		ruleCache: make(map[string]cachedRules),
	}
}

// SetFileRules replaces the file-sourced rule set. Called by the rules
// file watcher on load and reload.
func (e *Engine) SetFileRules(rules []*models.AlertRule) {
	e.fileMu.Lock()
	e.fileRules = rules
	e.fileMu.Unlock()
	e.log.Info("file rules replaced", zap.Int("count", len(rules)))
}

// Run evaluates notices until the context is canceled or the channel
// closes.
func (e *Engine) Run(ctx context.Context, notices <-chan pipeline.EventNotice) error {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice, ok := <-notices:
			if !ok {
				return nil
			}
			e.Evaluate(ctx, notice)
		case <-sweep.C:
			e.windows.sweep(e.now().UnixMilli())
		}
	}
}

// Evaluate runs one notice against all applicable rules.
func (e *Engine) Evaluate(ctx context.Context, notice pipeline.EventNotice) {
	rules, err := e.rulesFor(ctx, notice.ProjectID)
	if err != nil {
		e.log.Error("rule load failed, notice skipped",
			zap.String("project_id", notice.ProjectID), zap.Error(err))
		return
	}

	now := e.now()
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		message, matched := e.match(rule, notice, now)
		if !matched {
			continue
		}
		e.fire(ctx, rule, notice, message, now)
	}
}

// match applies the rule's condition and builds the alert message.
func (e *Engine) match(rule *models.AlertRule, notice pipeline.EventNotice, now time.Time) (string, bool) {
	switch rule.Config.Type {
	case models.RuleNewIssue:
		if !notice.IsNew {
			return "", false
		}
		if rule.Config.Environment != "" && rule.Config.Environment != notice.Environment {
			return "", false
		}
		return fmt.Sprintf("new issue %s: %s: %s",
			notice.Fingerprint, notice.ErrorType, notice.Message), true

	case models.RuleThreshold:
		if rule.Config.Fingerprint != "" && rule.Config.Fingerprint != notice.Fingerprint {
			return "", false
		}
		key := rule.ID + ":" + notice.Fingerprint
		count := e.windows.record(key, rule.Config.WindowSecs*1000, now.UnixMilli())
		if count < rule.Config.Threshold {
			return "", false
		}
		e.windows.reset(key)
		return fmt.Sprintf("%s: %d events in %ds (threshold %d)",
			notice.Fingerprint, count, rule.Config.WindowSecs, rule.Config.Threshold), true

	default:
		return "", false
	}
}

// fire claims the cooldown and dispatches on success. A failed claim
// write is logged and treated as suppressed, never fired.
func (e *Engine) fire(ctx context.Context, rule *models.AlertRule, notice pipeline.EventNotice, message string, now time.Time) {
	cooldownSecs := rule.CooldownSecs
	if cooldownSecs <= 0 {
		cooldownSecs = e.config.DefaultCooldownSecs
	}

	claimed, err := e.cooldowns.Claim(ctx,
		notice.ProjectID, rule.ID, notice.Fingerprint, now.Unix(), cooldownSecs)
	if err != nil {
		e.log.Error("cooldown claim failed",
			zap.String("rule", rule.Name), zap.Error(err))
		return
	}
	if !claimed {
		metrics.AlertsSuppressedTotal.Inc()
		e.log.Debug("alert suppressed by cooldown",
			zap.String("rule", rule.Name),
			zap.String("fingerprint", notice.Fingerprint))
		return
	}

	channels := rule.Channels
	if len(channels) == 0 {
		channels = e.config.DefaultChannels
	}
	if len(channels) == 0 {
		e.log.Warn("alert fired but no channels configured",
			zap.String("rule", rule.Name))
		return
	}

	metrics.AlertsFiredTotal.WithLabelValues(string(rule.Config.Type)).Inc()
	e.log.Info("alert fired",
		zap.String("rule", rule.Name),
		zap.String("project_id", notice.ProjectID),
		zap.String("fingerprint", notice.Fingerprint))

	e.notify.DispatchToChannels(ctx, rule.Name, message, channels)
}

// rulesFor merges cached store rules for the project with file rules.
func (e *Engine) rulesFor(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	stored, err := e.storeRulesFor(ctx, projectID)
	if err != nil {
		return nil, err
	}

	e.fileMu.RLock()
	defer e.fileMu.RUnlock()

	merged := make([]*models.AlertRule, 0, len(stored)+len(e.fileRules))
	merged = append(merged, stored...)
	for _, rule := range e.fileRules {
		if rule.ProjectID == "" || rule.ProjectID == projectID {
			merged = append(merged, rule)
		}
	}
	return merged, nil
}

func (e *Engine) storeRulesFor(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	e.cacheMu.Lock()
	cached, ok := e.ruleCache[projectID]
	e.cacheMu.Unlock()
	if ok && e.now().Sub(cached.loadedAt) < ruleCacheTTL {
		return cached.rules, nil
	}

	rules, err := e.rules.ListEnabledForProject(ctx, projectID)
	if err != nil {
		// Keep serving a stale list rather than dropping evaluation.
		if ok {
			e.log.Warn("rule refresh failed, using cached rules",
				zap.String("project_id", projectID), zap.Error(err))
			return cached.rules, nil
		}
		return nil, err
	}

	e.cacheMu.Lock()
	e.ruleCache[projectID] = cachedRules{rules: rules, loadedAt: e.now()}
	e.cacheMu.Unlock()
	return rules, nil
}

// InvalidateRuleCache drops the cached rule list for a project, forcing
// the next evaluation to reload from the store.
func (e *Engine) InvalidateRuleCache(projectID string) {
	e.cacheMu.Lock()
	delete(e.ruleCache, projectID)
	e.cacheMu.Unlock()
}
