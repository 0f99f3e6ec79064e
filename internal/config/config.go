// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/internal/consensus"
	"github.com/arbiterhq/arbiter/internal/contextview"
	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/debate"
	"github.com/arbiterhq/arbiter/internal/perspective"
	"github.com/arbiterhq/arbiter/internal/reasoner"
)

// Config represents the application configuration.
type Config struct {
	Defaults  DefaultsConfig            `yaml:"defaults"`
	Risk      RiskConfig                `yaml:"risk"`
	Weights   WeightsConfig             `yaml:"weights"`
	Budgets   map[string]int            `yaml:"budgets,omitempty"`
	Relevance map[string][]string       `yaml:"relevance,omitempty"`
	Reasoners map[string]ReasonerConfig `yaml:"reasoners"`
	Roles     []RoleConfig              `yaml:"roles,omitempty"`
	Server    ServerConfig              `yaml:"server,omitempty"`
	Storage   StorageConfig             `yaml:"storage,omitempty"`
}

// DefaultsConfig holds default deliberation settings.
type DefaultsConfig struct {
	Reasoner           string        `yaml:"reasoner"`
	Model              string        `yaml:"model"`
	Strategy           string        `yaml:"strategy"`
	MaxRounds          int           `yaml:"max_rounds"`
	ConsensusThreshold float64       `yaml:"consensus_threshold"`
	QuorumMinimum      int           `yaml:"quorum_minimum"`
	WorkerTimeout      time.Duration `yaml:"worker_timeout"`
	RelaxedFactor      float64       `yaml:"relaxed_timeout_factor"`
	AbortOnAmbiguous   bool          `yaml:"abort_on_ambiguous"`
	OptionalDomains    []string      `yaml:"optional_domains,omitempty"`
}

// RiskConfig bounds decision sizing.
type RiskConfig struct {
	BudgetCeiling float64              `yaml:"budget_ceiling"`
	Conservatism  float64              `yaml:"conservatism"`
	Scenarios     []consensus.Scenario `yaml:"scenarios,omitempty"`
}

// WeightsConfig holds the consensus and quality scoring weights.
type WeightsConfig struct {
	Signals consensus.SignalWeights  `yaml:"signals"`
	Quality consensus.QualityWeights `yaml:"quality"`
}

// ReasonerConfig holds adapter-specific settings.
type ReasonerConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Model   string        `yaml:"model,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Enabled bool          `yaml:"enabled"`
}

// RoleConfig holds custom perspective definitions.
type RoleConfig struct {
	ID           string `yaml:"id"`
	Stance       string `yaml:"stance"`
	SystemPrompt string `yaml:"system_prompt"`
}

// ServerConfig holds web server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// defaultReasonerCommands maps the built-in adapters to their executables.
var defaultReasonerCommands = map[string]ReasonerConfig{
	"claude": {Command: "claude", Args: []string{"--print"}, Timeout: 5 * time.Minute, Enabled: true},
	"gemini": {Command: "gemini", Timeout: 5 * time.Minute, Enabled: true},
	"codex":  {Command: "codex", Timeout: 5 * time.Minute, Enabled: true},
	"mock":   {Timeout: time.Minute, Enabled: true},
}

// Default returns the default configuration.
func Default() *Config {
	reasoners := make(map[string]ReasonerConfig, len(defaultReasonerCommands))
	for name, cfg := range defaultReasonerCommands {
		reasoners[name] = cfg
	}

	return &Config{
		Defaults: DefaultsConfig{
			Reasoner:           "claude",
			Strategy:           string(contextview.StrategyFocused),
			MaxRounds:          debate.DefaultMaxRounds,
			ConsensusThreshold: debate.DefaultConsensusThreshold,
			WorkerTimeout:      2 * time.Minute,
			RelaxedFactor:      2.0,
		},
		Risk: RiskConfig{
			BudgetCeiling: consensus.DefaultRiskParams().BudgetCeiling,
			Conservatism:  consensus.DefaultRiskParams().Conservatism,
		},
		Weights: WeightsConfig{
			Signals: consensus.DefaultSignalWeights(),
			Quality: consensus.DefaultQualityWeights(),
		},
		Reasoners: reasoners,
		Server: ServerConfig{
			Port: 8183,
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath(),
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom loads configuration from a specific path. A missing file yields
// the defaults; a present file overlays them.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Merge in any built-in reasoners the file did not mention.
	for name, defaults := range defaultReasonerCommands {
		if _, exists := cfg.Reasoners[name]; !exists {
			cfg.Reasoners[name] = defaults
		}
	}

	if env, err := LoadEnv(".env"); err == nil {
		ApplyEnvOverrides(cfg, env)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigPath())
}

// SaveTo saves the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetReasoner returns the configuration for a reasoner adapter.
func (c *Config) GetReasoner(name string) (ReasonerConfig, bool) {
	r, ok := c.Reasoners[name]
	return r, ok
}

// createReasonerFromName creates an adapter instance based on its name.
func createReasonerFromName(name string, cfg ReasonerConfig) reasoner.Reasoner {
	if name == "mock" {
		return reasoner.NewMock(name)
	}
	return reasoner.NewCLI(reasoner.CLIConfig{
		Name:    name,
		Command: cfg.Command,
		Args:    cfg.Args,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
}

// CreateReasoner creates a reasoner instance from this configuration.
func (c *Config) CreateReasoner(name string) (reasoner.Reasoner, error) {
	cfg, ok := c.GetReasoner(name)
	if !ok {
		return nil, fmt.Errorf("reasoner %s not found in config", name)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("reasoner %s is disabled", name)
	}
	return createReasonerFromName(name, cfg), nil
}

// CreateRegistry creates a reasoner registry from this configuration.
func (c *Config) CreateRegistry() *reasoner.Registry {
	registry := reasoner.NewRegistry()
	for name, cfg := range c.Reasoners {
		if !cfg.Enabled {
			continue
		}
		registry.Register(createReasonerFromName(name, cfg))
	}
	return registry
}

// ViewOptions converts the config into context view builder options.
func (c *Config) ViewOptions() contextview.Options {
	opts := contextview.Options{
		Strategy: contextview.Strategy(c.Defaults.Strategy),
	}
	if len(c.Budgets) > 0 {
		opts.Budgets = make(map[core.Role]int, len(c.Budgets))
		for role, units := range c.Budgets {
			opts.Budgets[core.Role(role)] = units
		}
	}
	if len(c.Relevance) > 0 {
		opts.Relevance = make(map[core.Role][]core.Domain, len(c.Relevance))
		for role, domains := range c.Relevance {
			ordered := make([]core.Domain, 0, len(domains))
			for _, d := range domains {
				ordered = append(ordered, core.Domain(d))
			}
			opts.Relevance[core.Role(role)] = ordered
		}
	}
	return opts
}

// DebateConfig converts the config into debate controller settings.
func (c *Config) DebateConfig() debate.Config {
	return debate.Config{
		MaxRounds:          c.Defaults.MaxRounds,
		ConsensusThreshold: c.Defaults.ConsensusThreshold,
		QuorumMinimum:      c.Defaults.QuorumMinimum,
		WorkerTimeout:      c.Defaults.WorkerTimeout,
	}
}

// RiskParams converts the config into synthesizer risk parameters.
func (c *Config) RiskParams() consensus.RiskParams {
	return consensus.RiskParams{
		BudgetCeiling: c.Risk.BudgetCeiling,
		Conservatism:  c.Risk.Conservatism,
	}
}

// OptionalDomainSet returns the optional domains as a lookup set.
func (c *Config) OptionalDomainSet() map[core.Domain]bool {
	if len(c.Defaults.OptionalDomains) == 0 {
		return nil
	}
	set := make(map[core.Domain]bool, len(c.Defaults.OptionalDomains))
	for _, d := range c.Defaults.OptionalDomains {
		set[core.Domain(d)] = true
	}
	return set
}

// Perspectives returns the configured roles, falling back to the built-in
// catalogue when none are defined.
func (c *Config) Perspectives() []perspective.Perspective {
	if len(c.Roles) == 0 {
		return perspective.DefaultPerspectives()
	}
	out := make([]perspective.Perspective, 0, len(c.Roles))
	for _, r := range c.Roles {
		out = append(out, perspective.Perspective{
			Role:         core.Role(r.ID),
			Stance:       core.Stance(r.Stance),
			SystemPrompt: r.SystemPrompt,
		})
	}
	return out
}

// StanceFunc returns a role-to-stance lookup covering the configured roles,
// falling back to the built-in catalogue for anything else.
func (c *Config) StanceFunc() func(core.Role) core.Stance {
	stances := make(map[core.Role]core.Stance)
	for _, p := range c.Perspectives() {
		stances[p.Role] = p.Stance
	}
	return func(role core.Role) core.Stance {
		if s, ok := stances[role]; ok {
			return s
		}
		return perspective.StanceOf(role)
	}
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "arbiter.yaml"
	}
	return filepath.Join(home, ".arbiter", "config.yaml")
}

// DefaultStoragePath returns the default SQLite database path.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "arbiter.db"
	}
	return filepath.Join(home, ".arbiter", "arbiter.db")
}

// GenerateExample generates an example configuration file.
func GenerateExample() string {
	example := `# arbiter configuration file
# Place this file at ~/.arbiter/config.yaml

defaults:
  reasoner: claude          # Default reasoning adapter
  model: ""                 # Default model (empty = adapter default)
  strategy: focused         # Context strategy: focused or full
  max_rounds: 3             # Debate round cap
  consensus_threshold: 0.6  # Agreement score that concludes a debate
  quorum_minimum: 0         # 0 = majority of workers
  worker_timeout: 2m        # Per-perspective invocation timeout
  relaxed_timeout_factor: 2 # Timeout multiplier for the one stage retry
  abort_on_ambiguous: false # Abort instead of a no-action decision
  optional_domains: [social]

risk:
  budget_ceiling: 0.1       # Hard cap on position sizing
  conservatism: 0.5         # Kelly fraction scale-down
  # Scenario model for expected value (optional; defaults to best/base/worst)
  # scenarios:
  #   - {name: best, magnitude: 1.0, stance: for}
  #   - {name: base, magnitude: 0.2, stance: neutral}
  #   - {name: worst, magnitude: -1.0, stance: against}

weights:
  signals:
    direct: 0.4
    implicit: 0.3
    shared_assumption: 0.3
  quality:
    evidence: 0.4
    consistency: 0.3
    rebuttal: 0.3

# Per-role context budgets in tokens (optional)
budgets:
  advocate: 2000
  critic: 2000

# Per-role domain relevance, highest priority first (optional)
relevance:
  advocate: [market, fundamentals, news]
  critic: [news, fundamentals, market]

reasoners:
  claude:
    command: claude
    args: ["--print"]
    model: ""               # e.g., "sonnet", "opus"
    timeout: 5m
    enabled: true

  gemini:
    command: gemini
    timeout: 5m
    enabled: true

  codex:
    command: codex
    timeout: 5m
    enabled: true

# Custom perspective roles (optional; replaces the built-in set)
roles:
  - id: skeptic
    stance: against
    system_prompt: |
      You argue against the proposal. Your approach:
      - Surface downside scenarios and hidden costs
      - Challenge optimistic growth assumptions
      - Prefix key premises with "Assumption:"

server:
  port: 8183

storage:
  path: ~/.arbiter/arbiter.db
`
	return example
}
