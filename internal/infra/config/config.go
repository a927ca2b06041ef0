package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"devagent/internal/domain"
)

// Config is the root configuration for the agent runtime.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Provider  ProviderConfig  `yaml:"provider"`
	Agent     AgentConfig     `yaml:"agent"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Bus       BusConfig       `yaml:"bus"`
	Shell     ShellConfig     `yaml:"shell"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or noop
}

// ProviderConfig configures the completion transport.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig configures HTTP connection pooling for the provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// AgentConfig configures the conversation loop.
type AgentConfig struct {
	MaxTurns        int     `yaml:"max_turns"`
	ConfirmPolicy   string  `yaml:"confirm_policy"`    // auto-approve, never-execute, per-call
	MissingToolName string  `yaml:"missing_tool_name"` // skip or error
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// WorkspaceConfig configures the sandboxed workspace.
type WorkspaceConfig struct {
	Root     string `yaml:"root"`
	NotesDir string `yaml:"notes_dir"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	HistorySize int `yaml:"history_size"`
	QueueSize   int `yaml:"queue_size"`
}

// ShellConfig configures the shell tool.
type ShellConfig struct {
	Allowlist      []string `yaml:"allowlist"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Default returns a config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
		Provider: ProviderConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0,
		},
		Agent: AgentConfig{
			MaxTurns:        24,
			ConfirmPolicy:   string(domain.PolicyPerCall),
			MissingToolName: "skip",
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
		},
		Workspace: WorkspaceConfig{Root: ".", NotesDir: ".devagent/notes"},
		Bus:       BusConfig{HistorySize: 10000, QueueSize: 1000},
		Shell: ShellConfig{
			Allowlist:      []string{"ls", "cat", "grep", "find", "go", "git", "make", "sed", "awk", "wc", "head", "tail"},
			TimeoutSeconds: 60,
		},
	}
}

// Load reads configuration from an optional YAML file, applies DEVAGENT_*
// environment overrides, and validates the result. An empty path loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays DEVAGENT_* environment variables onto the config.
// Environment always wins over file values, which keeps secrets out of
// config files.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DEVAGENT_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("DEVAGENT_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("DEVAGENT_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("DEVAGENT_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DEVAGENT_WORKSPACE"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("DEVAGENT_CONFIRM_POLICY"); v != "" {
		cfg.Agent.ConfirmPolicy = v
	}
	if v := os.Getenv("DEVAGENT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxTurns = n
		}
	}
}

// Validate checks invariants and normalizes enum-valued fields.
func (c *Config) Validate() error {
	if c.Agent.MaxTurns <= 0 {
		return domain.NewDomainError("config.Validate", domain.ErrConfigLoad,
			fmt.Sprintf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns))
	}
	if c.Bus.HistorySize <= 0 {
		c.Bus.HistorySize = 10000
	}
	if c.Bus.QueueSize <= 0 {
		c.Bus.QueueSize = 1000
	}
	if c.Shell.TimeoutSeconds <= 0 {
		c.Shell.TimeoutSeconds = 60
	}
	switch c.Agent.MissingToolName {
	case "skip", "error":
	case "":
		c.Agent.MissingToolName = "skip"
	default:
		return domain.NewDomainError("config.Validate", domain.ErrConfigLoad,
			fmt.Sprintf("agent.missing_tool_name must be skip or error, got %q", c.Agent.MissingToolName))
	}
	c.Agent.ConfirmPolicy = string(domain.ParseConfirmationPolicy(c.Agent.ConfirmPolicy))
	return nil
}
