// Package config provides YAML configuration loading and validation for the
// pipeline. Configuration is loaded once, validated, and passed by value;
// there is no global config state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in model configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
	ProviderMock      = "mock"
)

// Backend names accepted in validation configuration.
const (
	BackendSandbox = "sandbox"
	BackendCommand = "command"
)

// ModelConfig selects a provider and model for one collaborator role.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// Host is the server URL for self-hosted providers (ollama).
	Host        string  `yaml:"host,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
}

// Models assigns a model to each collaborator role. Unset roles fall back
// to Default.
type Models struct {
	Default ModelConfig `yaml:"default"`
	Planner ModelConfig `yaml:"planner,omitempty"`
	Coder   ModelConfig `yaml:"coder,omitempty"`
	Critic  ModelConfig `yaml:"critic,omitempty"`
	Repair  ModelConfig `yaml:"repair,omitempty"`
}

// Budgets bounds every loop in the pipeline.
type Budgets struct {
	// MaxIterations caps reflection rounds in the generation stage.
	MaxIterations int `yaml:"max_iterations"`
	// QualityThreshold is the minimum critic score to accept a draft.
	QualityThreshold int `yaml:"quality_threshold"`
	// PlanIterations caps reflection rounds in the plan stage.
	PlanIterations int `yaml:"plan_iterations"`
	// PlanQualityThreshold gates the plan critic's quality score.
	PlanQualityThreshold int `yaml:"plan_quality_threshold"`
	// PlanCreativityThreshold gates the plan critic's creativity score.
	PlanCreativityThreshold int `yaml:"plan_creativity_threshold"`
	// MaxDebugCycles caps validation/repair rounds.
	MaxDebugCycles int `yaml:"max_debug_cycles"`
}

// Timeouts bounds individual collaborator calls.
type Timeouts struct {
	LLM          time.Duration `yaml:"llm"`
	Validation   time.Duration `yaml:"validation"`
	Consultation time.Duration `yaml:"consultation"`
}

// Validation selects and configures the execution backend.
type Validation struct {
	// Backend is "sandbox" (in-process) or "command" (external runner).
	Backend string `yaml:"backend"`
	// Command is the argv run by the command backend inside the staged
	// file tree, e.g. ["go", "vet", "./..."] or ["npm", "test"].
	Command []string `yaml:"command,omitempty"`
}

// Config is the full pipeline configuration.
type Config struct {
	Models      Models     `yaml:"models"`
	Budgets     Budgets    `yaml:"budgets"`
	Timeouts    Timeouts   `yaml:"timeouts"`
	Validation  Validation `yaml:"validation"`
	EventLogDir string     `yaml:"event_log_dir,omitempty"`
	MemoryDB    string     `yaml:"memory_db,omitempty"`
	MetricsAddr string     `yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Models: Models{
			Default: ModelConfig{
				Provider:    ProviderAnthropic,
				Model:       "claude-sonnet-4-5",
				APIKeyEnv:   "ANTHROPIC_API_KEY",
				MaxTokens:   8192,
				Temperature: 0.3,
			},
		},
		Budgets: Budgets{
			MaxIterations:           3,
			QualityThreshold:        75,
			PlanIterations:          2,
			PlanQualityThreshold:    70,
			PlanCreativityThreshold: 60,
			MaxDebugCycles:          3,
		},
		Timeouts: Timeouts{
			LLM:          120 * time.Second,
			Validation:   60 * time.Second,
			Consultation: 10 * time.Second,
		},
		Validation: Validation{
			Backend: BackendSandbox,
		},
		MemoryDB: ".patchsmith/memory.db",
	}
}

// Load reads a YAML config file, applies defaults for unset fields, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero-valued budget and timeout fields after unmarshal,
// so a partial YAML file does not silently disable a loop cap.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Budgets.MaxIterations == 0 {
		c.Budgets.MaxIterations = def.Budgets.MaxIterations
	}
	if c.Budgets.QualityThreshold == 0 {
		c.Budgets.QualityThreshold = def.Budgets.QualityThreshold
	}
	if c.Budgets.PlanIterations == 0 {
		c.Budgets.PlanIterations = def.Budgets.PlanIterations
	}
	if c.Budgets.PlanQualityThreshold == 0 {
		c.Budgets.PlanQualityThreshold = def.Budgets.PlanQualityThreshold
	}
	if c.Budgets.PlanCreativityThreshold == 0 {
		c.Budgets.PlanCreativityThreshold = def.Budgets.PlanCreativityThreshold
	}
	if c.Budgets.MaxDebugCycles == 0 {
		c.Budgets.MaxDebugCycles = def.Budgets.MaxDebugCycles
	}
	if c.Timeouts.LLM == 0 {
		c.Timeouts.LLM = def.Timeouts.LLM
	}
	if c.Timeouts.Validation == 0 {
		c.Timeouts.Validation = def.Timeouts.Validation
	}
	if c.Timeouts.Consultation == 0 {
		c.Timeouts.Consultation = def.Timeouts.Consultation
	}
	if c.Validation.Backend == "" {
		c.Validation.Backend = def.Validation.Backend
	}
	if c.MemoryDB == "" {
		c.MemoryDB = def.MemoryDB
	}
}

// Validate rejects configurations that would break loop bounds or dispatch.
func (c *Config) Validate() error {
	if c.Budgets.MaxIterations < 1 {
		return fmt.Errorf("budgets.max_iterations must be >= 1, got %d", c.Budgets.MaxIterations)
	}
	if c.Budgets.MaxDebugCycles < 1 {
		return fmt.Errorf("budgets.max_debug_cycles must be >= 1, got %d", c.Budgets.MaxDebugCycles)
	}
	if c.Budgets.QualityThreshold < 0 || c.Budgets.QualityThreshold > 100 {
		return fmt.Errorf("budgets.quality_threshold must be in [0,100], got %d", c.Budgets.QualityThreshold)
	}
	switch c.Validation.Backend {
	case BackendSandbox:
	case BackendCommand:
		if len(c.Validation.Command) == 0 {
			return fmt.Errorf("validation.command is required for the command backend")
		}
	default:
		return fmt.Errorf("validation.backend must be %q or %q, got %q",
			BackendSandbox, BackendCommand, c.Validation.Backend)
	}
	if err := validateModel("models.default", &c.Models.Default); err != nil {
		return err
	}
	roles := []struct {
		name string
		cfg  *ModelConfig
	}{
		{"models.planner", &c.Models.Planner},
		{"models.coder", &c.Models.Coder},
		{"models.critic", &c.Models.Critic},
		{"models.repair", &c.Models.Repair},
	}
	for _, m := range roles {
		if m.cfg.Provider == "" {
			continue // role falls back to default
		}
		if err := validateModel(m.name, m.cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateModel(name string, m *ModelConfig) error {
	switch m.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGoogle, ProviderMock:
	default:
		return fmt.Errorf("%s.provider %q is not supported", name, m.Provider)
	}
	if m.Model == "" && m.Provider != ProviderMock {
		return fmt.Errorf("%s.model cannot be empty", name)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("%s.temperature must be in [0,2], got %v", name, m.Temperature)
	}
	return nil
}

// Role resolves a role model config, falling back to the default model.
func (m *Models) Role(role string) ModelConfig {
	var cfg ModelConfig
	switch role {
	case "planner":
		cfg = m.Planner
	case "coder":
		cfg = m.Coder
	case "critic":
		cfg = m.Critic
	case "repair":
		cfg = m.Repair
	}
	if cfg.Provider == "" {
		cfg = m.Default
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = m.Default.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = m.Default.Temperature
	}
	return cfg
}
