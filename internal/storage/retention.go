package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/metrics"
)

const dayMillis = int64(24 * 3600 * 1000)

// RetentionConfig configures the retention manager.
type RetentionConfig struct {
	// DefaultRawEventsDays applies when no global setting row exists.
	DefaultRawEventsDays int64
	// DefaultHourlyDays bounds hourly rollups and auxiliary tables.
	DefaultHourlyDays int64
	// Interval between passes.
	Interval time.Duration
	// VacuumThreshold triggers a synchronous VACUUM when any sub-step
	// deletes more rows than this.
	VacuumThreshold int64
}

// RetentionManager is the background sweep that deletes expired
// telemetry under global and per-tenant policy. A single long-lived
// task; passes never overlap and a failing sub-step never aborts the
// rest of a pass.
type RetentionManager struct {
	repo   RetentionRepository
	config RetentionConfig
	log    *zap.Logger
	now    func() time.Time
}

// NewRetentionManager creates a retention manager.
func NewRetentionManager(repo RetentionRepository, config RetentionConfig, log *zap.Logger) *RetentionManager {
	if config.DefaultRawEventsDays <= 0 {
		config.DefaultRawEventsDays = 30
	}
	if config.DefaultHourlyDays <= 0 {
		config.DefaultHourlyDays = 90
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.VacuumThreshold <= 0 {
		config.VacuumThreshold = 10000
	}
	return &RetentionManager{
		repo:   repo,
		config: config,
		log:    log,
		now:    time.Now,
	}
}

// Run executes retention passes on a fixed interval until the context
// is canceled. Ticks that arrive during a slow pass are coalesced by
// the ticker, so passes cannot overlap.
func (m *RetentionManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single retention pass.
func (m *RetentionManager) RunOnce(ctx context.Context) {
	nowMs := m.now().UnixMilli()

	rawDays := m.config.DefaultRawEventsDays
	if days, ok := m.repo.GlobalSetting(ctx, SettingRawEventsDays); ok {
		rawDays = days
	}
	hourlyDays := m.config.DefaultHourlyDays
	if days, ok := m.repo.GlobalSetting(ctx, SettingHourlyCountsDays); ok {
		hourlyDays = days
	}

	var maxDeleted int64

	// Raw events: per-tenant overrides first, then one set-exclusion
	// delete covering everyone else.
	overrides, err := m.repo.ProjectOverrides(ctx)
	if err != nil {
		m.log.Error("read retention overrides", zap.Error(err))
		metrics.RetentionPassErrors.Inc()
		overrides = nil
	}

	excluded := make([]string, 0, len(overrides))
	for projectID, days := range overrides {
		excluded = append(excluded, projectID)
		cutoff := nowMs - days*dayMillis
		deleted, err := m.repo.DeleteRawEventsForProject(ctx, projectID, cutoff)
		if err != nil {
			m.log.Error("prune raw events for project",
				zap.String("project_id", projectID), zap.Error(err))
			metrics.RetentionPassErrors.Inc()
			continue
		}
		maxDeleted = max(maxDeleted, deleted)
		m.observe("raw_events", deleted)
	}

	globalCutoff := nowMs - rawDays*dayMillis
	if deleted, err := m.repo.DeleteRawEventsExcept(ctx, excluded, globalCutoff); err != nil {
		m.log.Error("prune raw events", zap.Error(err))
		metrics.RetentionPassErrors.Inc()
	} else {
		maxDeleted = max(maxDeleted, deleted)
		m.observe("raw_events", deleted)
	}

	// Hourly rollups and auxiliary time-bucketed tables share the
	// hourly cutoff. Cooldowns store unix seconds, everything else
	// milliseconds; the conversion must stay exact.
	hourlyCutoff := nowMs - hourlyDays*dayMillis

	steps := []struct {
		table string
		run   func() (int64, error)
	}{
		{"event_counts_hourly", func() (int64, error) { return m.repo.DeleteHourlyCounts(ctx, hourlyCutoff) }},
		{"usage_hourly", func() (int64, error) { return m.repo.DeleteUsageHourly(ctx, hourlyCutoff) }},
		{"trace_scores", func() (int64, error) { return m.repo.DeleteTraceScores(ctx, hourlyCutoff) }},
		{"alert_cooldowns", func() (int64, error) { return m.repo.DeleteCooldowns(ctx, hourlyCutoff/1000) }},
	}
	for _, step := range steps {
		deleted, err := step.run()
		if err != nil {
			m.log.Error("retention step failed", zap.String("table", step.table), zap.Error(err))
			metrics.RetentionPassErrors.Inc()
			continue
		}
		maxDeleted = max(maxDeleted, deleted)
		m.observe(step.table, deleted)
	}

	if maxDeleted > m.config.VacuumThreshold {
		if err := m.repo.Vacuum(ctx); err != nil {
			m.log.Error("vacuum after large deletion", zap.Error(err))
			metrics.RetentionPassErrors.Inc()
		} else {
			m.log.Info("vacuumed after large deletion", zap.Int64("max_deleted", maxDeleted))
		}
	}
}

func (m *RetentionManager) observe(table string, deleted int64) {
	if deleted <= 0 {
		return
	}
	metrics.RetentionDeletedTotal.WithLabelValues(table).Add(float64(deleted))
	m.log.Info("pruned expired rows", zap.String("table", table), zap.Int64("deleted", deleted))
}
