// Package config loads hive.toml: swarm topology, provider endpoints,
// storage backends, MCP servers, and observability settings.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/hive"
)

type Config struct {
	Swarm     SwarmConfig               `toml:"swarm"`
	Agents    []AgentConfig             `toml:"agents"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Storage   StorageConfig             `toml:"storage"`
	MCP       map[string]MCPConfig      `toml:"mcp"`
	Workflow  []StepConfig              `toml:"workflow"`
	Observer  ObserverConfig            `toml:"observer"`
	Retry     RetryConfig               `toml:"retry"`
	RateLimit RateLimitConfig           `toml:"ratelimit"`
}

type SwarmConfig struct {
	Name     string `toml:"name"`
	Lead     string `toml:"lead"`
	MaxTurns int    `toml:"max_turns"`
}

type AgentConfig struct {
	Name         string                       `toml:"name"`
	Description  string                       `toml:"description"`
	Model        string                       `toml:"model"`
	Directory    string                       `toml:"directory"`
	SystemPrompt string                       `toml:"system_prompt"`
	Tools        []string                     `toml:"tools"`
	DelegatesTo  []string                     `toml:"delegates_to"`
	Permissions  hive.PermissionPolicy        `toml:"permissions"`
	Plugins      map[string]map[string]string `toml:"plugins"`
}

type ProviderConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
	MaxTokens   int     `toml:"max_tokens"`
}

type StorageConfig struct {
	// Scratchpad backend: memory (default), disk, sqlite, postgres.
	Scratchpad BackendConfig `toml:"scratchpad"`
	// Memory backend for cross-execution recall; empty disables it.
	Memory BackendConfig `toml:"memory"`
	// Snapshots backend, used for save/resume; sqlite or postgres.
	Snapshots BackendConfig `toml:"snapshots"`
}

type BackendConfig struct {
	Backend string `toml:"backend"`
	// Path is the directory (disk) or database file (sqlite).
	Path string `toml:"path"`
	// DSN is the postgres connection string.
	DSN string `toml:"dsn"`
	// TotalSize caps aggregate content bytes for the memory scratchpad.
	TotalSize int64 `toml:"total_size"`
}

type MCPConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	// TimeoutSeconds bounds each call to this server.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout returns the per-call timeout as a duration, zero when unset.
func (m MCPConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

type StepConfig struct {
	Name   string `toml:"name"`
	Agent  string `toml:"agent"`
	Prompt string `toml:"prompt"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	Jitter      float64 `toml:"jitter"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	TokensPerMinute   int `toml:"tokens_per_minute"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Swarm: SwarmConfig{Name: "hive"},
		Storage: StorageConfig{
			Scratchpad: BackendConfig{Backend: "memory"},
		},
		Retry: RetryConfig{MaxAttempts: 3, BaseDelayMS: 500, MaxDelayMS: 30_000, Jitter: 0.2},
	}
}

// Load reads config: defaults -> TOML file -> HIVE_* env vars (env wins).
// A missing file is fine; a malformed one is a configuration error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "hive.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, hive.Configf("parsing %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, hive.Configf("reading %s: %v", path, err)
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and switches from the environment.
// Provider keys follow HIVE_<PROVIDER>_API_KEY; HIVE_API_KEY fills every
// provider that still has no key.
func applyEnv(cfg *Config) {
	for name, pc := range cfg.Providers {
		envKey := "HIVE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			pc.APIKey = v
			cfg.Providers[name] = pc
		}
	}
	if v := os.Getenv("HIVE_API_KEY"); v != "" {
		for name, pc := range cfg.Providers {
			if pc.APIKey == "" {
				pc.APIKey = v
				cfg.Providers[name] = pc
			}
		}
	}
	if v := os.Getenv("HIVE_POSTGRES_DSN"); v != "" {
		if cfg.Storage.Scratchpad.Backend == "postgres" {
			cfg.Storage.Scratchpad.DSN = v
		}
		if cfg.Storage.Memory.Backend == "postgres" {
			cfg.Storage.Memory.DSN = v
		}
		if cfg.Storage.Snapshots.Backend == "postgres" {
			cfg.Storage.Snapshots.DSN = v
		}
	}
	if v := os.Getenv("HIVE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
}

func validate(cfg Config) error {
	if len(cfg.Agents) == 0 {
		return hive.Configf("no agents defined")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.Name == "" {
			return hive.Configf("agent with empty name")
		}
		if seen[a.Name] {
			return hive.Configf("duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if a.Model == "" {
			return hive.Configf("agent %q has no model", a.Name)
		}
	}
	lead := cfg.Swarm.Lead
	if lead == "" {
		lead = cfg.Agents[0].Name
	}
	if !seen[lead] {
		return hive.Configf("lead agent %q is not defined", lead)
	}
	for _, step := range cfg.Workflow {
		if step.Name == "" || step.Agent == "" || step.Prompt == "" {
			return hive.Configf("workflow step %q needs name, agent, and prompt", step.Name)
		}
		if !seen[step.Agent] {
			return hive.Configf("workflow step %q references unknown agent %q", step.Name, step.Agent)
		}
	}
	switch b := cfg.Storage.Scratchpad.Backend; b {
	case "", "memory", "disk", "sqlite", "postgres":
	default:
		return hive.Configf("unknown scratchpad backend %q", b)
	}
	return nil
}

// Lead returns the configured lead agent, defaulting to the first one.
func (c Config) Lead() string {
	if c.Swarm.Lead != "" {
		return c.Swarm.Lead
	}
	return c.Agents[0].Name
}

// Definitions converts the agent configs to hive definitions.
func (c Config) Definitions() []hive.AgentDefinition {
	defs := make([]hive.AgentDefinition, len(c.Agents))
	for i, a := range c.Agents {
		defs[i] = hive.AgentDefinition{
			Name:         a.Name,
			Description:  a.Description,
			Model:        a.Model,
			Directory:    a.Directory,
			SystemPrompt: a.SystemPrompt,
			Tools:        a.Tools,
			DelegatesTo:  a.DelegatesTo,
			Permissions:  a.Permissions,
			Plugins:      a.Plugins,
		}
	}
	return defs
}
