package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emberhq/emberwatch/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func mustCreateProject(t *testing.T, store *SQLiteStorage, id, apiKey string) {
	t.Helper()
	err := store.Projects().Create(context.Background(), &models.Project{
		ID:        id,
		Name:      id,
		APIKey:    apiKey,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create project %s: %v", id, err)
	}
}

func processedEvent(project, fp string, receivedAt int64) *models.ProcessedEvent {
	return &models.ProcessedEvent{
		Event: models.IngestEvent{
			ErrorType:   "TypeError",
			Message:     "boom",
			Stack:       "at handler.js:10",
			Environment: "production",
			Release:     "1.0.0",
		},
		Fingerprint: fp,
		ProjectID:   project,
		ReceivedAt:  receivedAt,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestProjectCRUD(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	repo := store.Projects()

	mustCreateProject(t, store, "proj-a", "key-a")

	got, err := repo.GetByID(ctx, "proj-a")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.APIKey != "key-a" {
		t.Errorf("APIKey = %q", got.APIKey)
	}

	got, err = repo.GetByAPIKey(ctx, "key-a")
	if err != nil {
		t.Fatalf("GetByAPIKey: %v", err)
	}
	if got.ID != "proj-a" {
		t.Errorf("ID = %q", got.ID)
	}

	if _, err := repo.GetByAPIKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown key error = %v, want ErrNotFound", err)
	}

	mustCreateProject(t, store, "proj-b", "key-b")
	projects, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("List = %d projects, want 2", len(projects))
	}
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
}

func TestWriteBatchAggregates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mustCreateProject(t, store, "proj-a", "key-a")

	now := time.Now().UnixMilli()
	batch := []*models.ProcessedEvent{
		processedEvent("proj-a", "fp-1", now),
		processedEvent("proj-a", "fp-1", now+10),
		processedEvent("proj-a", "fp-2", now+20),
	}
	if err := store.Events().WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	count, err := store.Events().CountRawEvents(ctx, "proj-a")
	if err != nil {
		t.Fatalf("CountRawEvents: %v", err)
	}
	if count != 3 {
		t.Errorf("raw events = %d, want 3", count)
	}

	agg, err := store.Events().AggregateSnapshot(ctx, "proj-a", "fp-1")
	if err != nil {
		t.Fatalf("AggregateSnapshot: %v", err)
	}
	if agg.Count != 2 {
		t.Errorf("fp-1 count = %d, want 2", agg.Count)
	}
	if agg.FirstSeen != now || agg.LastSeen != now+10 {
		t.Errorf("fp-1 seen = %d..%d, want %d..%d", agg.FirstSeen, agg.LastSeen, now, now+10)
	}

	if _, err := store.Events().AggregateSnapshot(ctx, "proj-a", "fp-absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("absent aggregate error = %v, want ErrNotFound", err)
	}
}

func TestWriteBatchKeepsTenantsSeparate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mustCreateProject(t, store, "proj-a", "key-a")
	mustCreateProject(t, store, "proj-b", "key-b")

	now := time.Now().UnixMilli()
	batch := []*models.ProcessedEvent{
		processedEvent("proj-a", "fp-1", now),
		processedEvent("proj-b", "fp-1", now),
	}
	if err := store.Events().WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	aggA, err := store.Events().AggregateSnapshot(ctx, "proj-a", "fp-1")
	if err != nil {
		t.Fatalf("AggregateSnapshot a: %v", err)
	}
	aggB, err := store.Events().AggregateSnapshot(ctx, "proj-b", "fp-1")
	if err != nil {
		t.Fatalf("AggregateSnapshot b: %v", err)
	}
	if aggA.Count != 1 || aggB.Count != 1 {
		t.Errorf("counts = %d/%d, want 1/1", aggA.Count, aggB.Count)
	}
}

func TestCooldownClaimWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cd := store.Cooldowns()

	base := int64(1700000000)

	claimed, err := cd.Claim(ctx, "proj-a", "rule-1", "fp-1", base, 60)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	// 30s into a 60s window: refused.
	claimed, err = cd.Claim(ctx, "proj-a", "rule-1", "fp-1", base+30, 60)
	if err != nil {
		t.Fatalf("Claim at +30: %v", err)
	}
	if claimed {
		t.Fatal("claim at +30s should be refused")
	}
	last, err := cd.LastFired(ctx, "proj-a", "rule-1", "fp-1")
	if err != nil {
		t.Fatalf("LastFired: %v", err)
	}
	if last != base {
		t.Errorf("last_fired = %d, want unchanged %d", last, base)
	}

	// 61s later: allowed, and last_fired moves.
	claimed, err = cd.Claim(ctx, "proj-a", "rule-1", "fp-1", base+61, 60)
	if err != nil {
		t.Fatalf("Claim at +61: %v", err)
	}
	if !claimed {
		t.Fatal("claim at +61s should succeed")
	}
	last, _ = cd.LastFired(ctx, "proj-a", "rule-1", "fp-1")
	if last != base+61 {
		t.Errorf("last_fired = %d, want %d", last, base+61)
	}
}

func TestCooldownClaimIsScoped(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cd := store.Cooldowns()

	base := int64(1700000000)
	if ok, _ := cd.Claim(ctx, "proj-a", "rule-1", "fp-1", base, 60); !ok {
		t.Fatal("first claim failed")
	}
	// Different fingerprint, rule and project all claim independently.
	if ok, _ := cd.Claim(ctx, "proj-a", "rule-1", "fp-2", base, 60); !ok {
		t.Error("other fingerprint should claim")
	}
	if ok, _ := cd.Claim(ctx, "proj-a", "rule-2", "fp-1", base, 60); !ok {
		t.Error("other rule should claim")
	}
	if ok, _ := cd.Claim(ctx, "proj-b", "rule-1", "fp-1", base, 60); !ok {
		t.Error("other project should claim")
	}
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cd := store.Cooldowns()

	const claimers = 20
	now := int64(1700000000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := cd.Claim(ctx, "proj-a", "rule-1", "fp-1", now, 60)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestAlertRuleRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rules := store.AlertRules()

	now := time.Now()
	rule := &models.AlertRule{
		ID:        "rule-1",
		ProjectID: "proj-a",
		Name:      "new issues",
		Config:    models.RuleConfig{Type: models.RuleNewIssue, Environment: "production"},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
		Channels: []models.ChannelConfig{
			models.SlackChannel{WebhookURL: "https://hooks.slack.com/services/T0/B0/x"},
			models.EmailChannel{To: "ops@example.com"},
		},
	}
	if err := rules.Create(ctx, rule); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A global rule (no project) applies to every tenant.
	global := &models.AlertRule{
		ID:      "rule-global",
		Name:    "global burst",
		Config:  models.RuleConfig{Type: models.RuleThreshold, Threshold: 10, WindowSecs: 60},
		Enabled: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := rules.Create(ctx, global); err != nil {
		t.Fatalf("Create global: %v", err)
	}

	// Disabled rules never surface.
	disabled := &models.AlertRule{
		ID: "rule-off", ProjectID: "proj-a", Name: "off",
		Config:  models.RuleConfig{Type: models.RuleNewIssue},
		Enabled: false, CreatedAt: now, UpdatedAt: now,
	}
	if err := rules.Create(ctx, disabled); err != nil {
		t.Fatalf("Create disabled: %v", err)
	}

	listed, err := rules.ListEnabledForProject(ctx, "proj-a")
	if err != nil {
		t.Fatalf("ListEnabledForProject: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("rules = %d, want 2 (project + global)", len(listed))
	}

	byID := map[string]*models.AlertRule{}
	for _, r := range listed {
		byID[r.ID] = r
	}
	got := byID["rule-1"]
	if got == nil {
		t.Fatal("rule-1 missing")
	}
	if got.Config.Environment != "production" {
		t.Errorf("config = %+v", got.Config)
	}
	if len(got.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(got.Channels))
	}
	if got.Channels[0].Type() != models.ChannelSlack {
		t.Errorf("first channel = %v", got.Channels[0].Type())
	}

	// Other tenants only see the global rule.
	other, err := rules.ListEnabledForProject(ctx, "proj-b")
	if err != nil {
		t.Fatalf("ListEnabledForProject other: %v", err)
	}
	if len(other) != 1 || other[0].ID != "rule-global" {
		t.Errorf("other tenant rules = %+v", other)
	}

	if err := rules.Delete(ctx, "rule-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := rules.Delete(ctx, "rule-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	store := openTestStore(t)
	rule := &models.AlertRule{
		ID: "rule-bad", Name: "bad",
		Config:    models.RuleConfig{Type: models.RuleThreshold}, // missing threshold/window
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.AlertRules().Create(context.Background(), rule); err == nil {
		t.Fatal("Create accepted an invalid rule")
	}
}
