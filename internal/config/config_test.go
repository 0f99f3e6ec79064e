package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arbiterhq/arbiter/internal/contextview"
	"github.com/arbiterhq/arbiter/internal/core"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.Reasoner != "claude" {
		t.Errorf("wrong default reasoner: %s", cfg.Defaults.Reasoner)
	}
	if cfg.Defaults.MaxRounds != 3 {
		t.Errorf("wrong default max rounds: %d", cfg.Defaults.MaxRounds)
	}
	if cfg.Defaults.ConsensusThreshold != 0.6 {
		t.Errorf("wrong default threshold: %.2f", cfg.Defaults.ConsensusThreshold)
	}
	if cfg.Risk.BudgetCeiling != 0.1 {
		t.Errorf("wrong default budget ceiling: %.2f", cfg.Risk.BudgetCeiling)
	}
	if _, ok := cfg.Reasoners["claude"]; !ok {
		t.Error("claude reasoner missing from defaults")
	}
	if _, ok := cfg.Reasoners["mock"]; !ok {
		t.Error("mock reasoner missing from defaults")
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if cfg.Defaults.Reasoner != "claude" {
		t.Errorf("defaults not applied: %s", cfg.Defaults.Reasoner)
	}
}

func TestLoadFromOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
defaults:
  reasoner: gemini
  max_rounds: 5
  consensus_threshold: 0.75
  optional_domains: [social, macro]
risk:
  budget_ceiling: 0.05
  conservatism: 0.25
budgets:
  advocate: 800
relevance:
  advocate: [market, news]
reasoners:
  custom:
    command: custom-llm
    timeout: 30s
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Defaults.Reasoner != "gemini" {
		t.Errorf("overlay not applied: %s", cfg.Defaults.Reasoner)
	}
	if cfg.Defaults.MaxRounds != 5 {
		t.Errorf("max_rounds not applied: %d", cfg.Defaults.MaxRounds)
	}
	if cfg.Risk.BudgetCeiling != 0.05 {
		t.Errorf("risk not applied: %.2f", cfg.Risk.BudgetCeiling)
	}
	if _, ok := cfg.Reasoners["custom"]; !ok {
		t.Error("custom reasoner missing")
	}
	// Built-ins merge in even when the file omits them.
	if _, ok := cfg.Reasoners["claude"]; !ok {
		t.Error("built-in reasoner lost during overlay")
	}

	optional := cfg.OptionalDomainSet()
	if !optional[core.DomainSocial] || !optional[core.DomainMacro] {
		t.Errorf("optional domains not parsed: %v", optional)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Defaults.MaxRounds = 4
	cfg.Server.Port = 9999
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Defaults.MaxRounds != 4 {
		t.Errorf("max_rounds lost in roundtrip: %d", loaded.Defaults.MaxRounds)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("port lost in roundtrip: %d", loaded.Server.Port)
	}
}

func TestCreateReasoner(t *testing.T) {
	cfg := Default()

	t.Run("Known", func(t *testing.T) {
		r, err := cfg.CreateReasoner("claude")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if r.Name() != "claude" {
			t.Errorf("wrong name: %s", r.Name())
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := cfg.CreateReasoner("nonexistent"); err == nil {
			t.Error("expected error for unknown reasoner")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		r := cfg.Reasoners["gemini"]
		r.Enabled = false
		cfg.Reasoners["gemini"] = r
		if _, err := cfg.CreateReasoner("gemini"); err == nil {
			t.Error("expected error for disabled reasoner")
		}
	})
}

func TestCreateRegistry(t *testing.T) {
	cfg := Default()
	r := cfg.Reasoners["codex"]
	r.Enabled = false
	cfg.Reasoners["codex"] = r

	registry := cfg.CreateRegistry()
	if registry.Has("codex") {
		t.Error("disabled reasoner should not be registered")
	}
	if !registry.Has("claude") || !registry.Has("mock") {
		t.Error("enabled reasoners missing from registry")
	}
}

func TestViewOptions(t *testing.T) {
	cfg := Default()
	cfg.Defaults.Strategy = "full"
	cfg.Budgets = map[string]int{"advocate": 500}
	cfg.Relevance = map[string][]string{"advocate": {"market", "news"}}

	opts := cfg.ViewOptions()
	if opts.Strategy != contextview.StrategyFull {
		t.Errorf("wrong strategy: %s", opts.Strategy)
	}
	if opts.Budgets[core.Role("advocate")] != 500 {
		t.Errorf("budget not converted: %d", opts.Budgets[core.Role("advocate")])
	}
	want := []core.Domain{core.DomainMarket, core.DomainNews}
	got := opts.Relevance[core.Role("advocate")]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("relevance order not preserved: %v", got)
	}
}

func TestStanceFunc(t *testing.T) {
	cfg := Default()
	cfg.Roles = []RoleConfig{
		{ID: "skeptic", Stance: "against", SystemPrompt: "Argue against."},
	}

	stanceOf := cfg.StanceFunc()
	if got := stanceOf(core.Role("skeptic")); got != core.StanceAgainst {
		t.Errorf("custom role stance: got %s", got)
	}
	// Built-in fallback still works for roles outside the custom set.
	if got := stanceOf(core.Role("advocate")); got != core.StanceFor {
		t.Errorf("built-in fallback stance: got %s", got)
	}
}

func TestGenerateExampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(GenerateExample()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("example config does not parse: %v", err)
	}
	if cfg.Defaults.MaxRounds != 3 {
		t.Errorf("unexpected example max_rounds: %d", cfg.Defaults.MaxRounds)
	}
	if len(cfg.Roles) == 0 {
		t.Error("example roles missing")
	}
}
