package alerting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/models"
)

const validRulesYAML = `
rules:
  - name: prod new issues
    description: first sighting of an error in production
    type: new_issue
    environment: production
    cooldown_secs: 300
    channels:
      - type: slack
        webhook_url: https://hooks.slack.com/services/T0/B0/x
      - type: email
        to: ops@example.com
  - name: checkout burst
    project: checkout
    type: threshold
    threshold: 50
    window_secs: 60
    channels:
      - type: webhook
        url: https://example.com/hook
`

func TestParseRules(t *testing.T) {
	rules, err := parseRules([]byte(validRulesYAML), zap.NewNop())
	if err != nil {
		t.Fatalf("parseRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}

	first := rules[0]
	if first.ID != "file:prod new issues" {
		t.Errorf("ID = %q", first.ID)
	}
	if first.ProjectID != "" {
		t.Errorf("ProjectID = %q, want global", first.ProjectID)
	}
	if first.Config.Type != models.RuleNewIssue || first.Config.Environment != "production" {
		t.Errorf("config = %+v", first.Config)
	}
	if first.CooldownSecs != 300 {
		t.Errorf("CooldownSecs = %d", first.CooldownSecs)
	}
	if len(first.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(first.Channels))
	}
	if first.Channels[0].Type() != models.ChannelSlack {
		t.Errorf("first channel = %v", first.Channels[0].Type())
	}

	second := rules[1]
	if second.ProjectID != "checkout" {
		t.Errorf("ProjectID = %q", second.ProjectID)
	}
	if second.Config.Threshold != 50 || second.Config.WindowSecs != 60 {
		t.Errorf("config = %+v", second.Config)
	}
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "rules: ["},
		{"unknown type", "rules:\n  - name: x\n    type: regex"},
		{"threshold without window", "rules:\n  - name: x\n    type: threshold\n    threshold: 5"},
		{"missing name", "rules:\n  - type: new_issue"},
		{"duplicate names", "rules:\n  - name: x\n    type: new_issue\n  - name: x\n    type: new_issue"},
		{"private webhook host", "rules:\n  - name: x\n    type: new_issue\n    channels:\n      - type: webhook\n        url: http://10.0.0.5/hook"},
		{"email without recipient", "rules:\n  - name: x\n    type: new_issue\n    channels:\n      - type: email"},
		{"unknown channel type", "rules:\n  - name: x\n    type: new_issue\n    channels:\n      - type: pager"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseRules([]byte(tt.yaml), zap.NewNop()); err == nil {
				t.Errorf("parseRules accepted invalid input")
			}
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(validRulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRulesFile(path, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadRulesFile: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
}

func TestLoadRulesFileMissing(t *testing.T) {
	if _, err := LoadRulesFile(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
