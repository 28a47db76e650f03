// Package config loads the agent core's configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the agent core.
// Values come from config.yaml with environment variable overrides; secrets
// (database passwords, LLM API key) come from the environment only.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // set at load time from build info

	// The three logical databases. They are independently connected and are
	// never joined in a single statement.
	Identity   DatabaseConfig `yaml:"identity_db" env-prefix:"IDENTITY_"`
	Clinical   DatabaseConfig `yaml:"clinical_db" env-prefix:"CLINICAL_"`
	Operations DatabaseConfig `yaml:"operations_db" env-prefix:"OPERATIONS_"`

	LLM   LLMConfig   `yaml:"llm"`
	Agent AgentConfig `yaml:"agent"`
	Limit LimitConfig `yaml:"rate_limit"`

	// Policy files. Rules and templates are data, not code.
	GuardrailsFile string `yaml:"guardrails_file" env:"GUARDRAILS_FILE" env-default:"guardrails.yaml"`
	TemplatesFile  string `yaml:"templates_file" env:"TEMPLATES_FILE" env-default:"templates.yaml"`
}

// DatabaseConfig holds PostgreSQL settings for one logical database.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"agent"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // secret, env only
	Database       string `yaml:"database" env:"PGDATABASE"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LLMConfig holds settings for the external LLM collaborator.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"anthropic"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"claude-3-5-haiku-latest"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // secret, env only

	TimeoutSeconds int     `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"20"`
	MaxAttempts    int     `yaml:"max_attempts" env:"LLM_MAX_ATTEMPTS" env-default:"3"`
	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
}

// Timeout returns the per-call timeout.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig holds the tunable policy thresholds. The numeric defaults are
// product policy, not canon; deployments adjust them here.
type AgentConfig struct {
	// Confidence policy: below ClarifyBelow the turn becomes a clarification;
	// below FuzzyShortcutAt fuzzy auto-selection is disabled.
	ClarifyBelow    float64 `yaml:"clarify_below" env:"AGENT_CLARIFY_BELOW" env-default:"0.4"`
	FuzzyShortcutAt float64 `yaml:"fuzzy_shortcut_at" env:"AGENT_FUZZY_SHORTCUT_AT" env-default:"0.7"`

	// Fuzzy resolution: margin the top candidate must hold over the runner-up
	// to auto-select, and the shortlist bound otherwise.
	SimilarityMargin float64 `yaml:"similarity_margin" env:"AGENT_SIMILARITY_MARGIN" env-default:"0.15"`
	MaxShortlist     int     `yaml:"max_shortlist" env:"AGENT_MAX_SHORTLIST" env-default:"5"`

	// Formatting.
	MaxListItems int `yaml:"max_list_items" env:"AGENT_MAX_LIST_ITEMS" env-default:"20"`

	// Database call budget.
	DBTimeoutSeconds int `yaml:"db_timeout_seconds" env:"AGENT_DB_TIMEOUT_SECONDS" env-default:"10"`

	// Thread lifecycle windows.
	IdleAfterMinutes   int `yaml:"idle_after_minutes" env:"AGENT_IDLE_AFTER_MINUTES" env-default:"30"`
	ArchiveAfterHours  int `yaml:"archive_after_hours" env:"AGENT_ARCHIVE_AFTER_HOURS" env-default:"72"`
	ConfirmTTLMinutes  int `yaml:"confirm_ttl_minutes" env:"AGENT_CONFIRM_TTL_MINUTES" env-default:"10"`
	HistoryWindowTurns int `yaml:"history_window_turns" env:"AGENT_HISTORY_WINDOW_TURNS" env-default:"6"`
}

// DBTimeout returns the per-statement database timeout.
func (c *AgentConfig) DBTimeout() time.Duration {
	return time.Duration(c.DBTimeoutSeconds) * time.Second
}

// IdleAfter returns the open→idle inactivity window.
func (c *AgentConfig) IdleAfter() time.Duration {
	return time.Duration(c.IdleAfterMinutes) * time.Minute
}

// ArchiveAfter returns the idle→archived window.
func (c *AgentConfig) ArchiveAfter() time.Duration {
	return time.Duration(c.ArchiveAfterHours) * time.Hour
}

// ConfirmTTL returns how long a pending confirmation stays valid.
func (c *AgentConfig) ConfirmTTL() time.Duration {
	return time.Duration(c.ConfirmTTLMinutes) * time.Minute
}

// LimitConfig holds the per-(user, origin) token bucket settings that bound
// cost and abuse of the LLM collaborator.
type LimitConfig struct {
	TurnsPerMinute int `yaml:"turns_per_minute" env:"LIMIT_TURNS_PER_MINUTE" env-default:"10"`
	Burst          int `yaml:"burst" env:"LIMIT_BURST" env-default:"3"`
}

// Load reads configuration from path with environment overrides. When the
// file does not exist, environment variables and defaults alone apply.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.ClarifyBelow < 0 || c.Agent.ClarifyBelow > 1 {
		return fmt.Errorf("clarify_below must be in [0,1], got %v", c.Agent.ClarifyBelow)
	}
	if c.Agent.FuzzyShortcutAt < c.Agent.ClarifyBelow {
		return fmt.Errorf("fuzzy_shortcut_at (%v) must not be below clarify_below (%v)",
			c.Agent.FuzzyShortcutAt, c.Agent.ClarifyBelow)
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}
