package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forgecore.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[general]
state_db = "~/forgecore.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.TickInterval.Duration == 0 {
		t.Error("expected default tick interval")
	}
	if cfg.Window.StartHour != 4 || cfg.Window.EndHour != 6 {
		t.Errorf("expected default maintenance window 4-6, got %d-%d", cfg.Window.StartHour, cfg.Window.EndHour)
	}
	sum := cfg.Opportunity.Weights.Frequency + cfg.Opportunity.Weights.Severity +
		cfg.Opportunity.Weights.CostSavings + cfg.Opportunity.Weights.KnowledgeGap +
		cfg.Opportunity.Weights.StrategicValue
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("default strategy weights do not sum to 1.0: %.4f", sum)
	}
	if cfg.Feedback.MinAdjustment != 0.5 || cfg.Feedback.MaxAdjustment != 1.5 {
		t.Errorf("unexpected feedback bounds: %+v", cfg.Feedback)
	}
}

func TestLoad_RejectsBadWeights(t *testing.T) {
	path := writeTempConfig(t, `
[opportunity.strategy_weights]
frequency = 0.5
severity = 0.1
cost_savings = 0.1
knowledge_gap = 0.1
strategic_value = 0.1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for weights not summing to 1.0")
	}
}

func TestLoad_RejectsBadWindow(t *testing.T) {
	path := writeTempConfig(t, `
[maintenance_window]
start_hour = 40
end_hour = 6
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for out-of-range start_hour")
	}
}

func TestClone_DeepCopiesMaps(t *testing.T) {
	cfg := &Config{
		TaskKinds: map[string]TaskKindConfig{"search": {Permits: 2}},
		Opportunity: Opportunity{
			ExpectedKnowledge: []string{"nylon"},
		},
	}
	clone := cfg.Clone()
	clone.TaskKinds["search"] = TaskKindConfig{Permits: 99}
	clone.Opportunity.ExpectedKnowledge[0] = "mutated"

	if cfg.TaskKinds["search"].Permits != 2 {
		t.Error("mutating clone's TaskKinds leaked into original")
	}
	if cfg.Opportunity.ExpectedKnowledge[0] != "nylon" {
		t.Error("mutating clone's ExpectedKnowledge leaked into original")
	}
}
