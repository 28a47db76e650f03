package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 0.4, cfg.Agent.ClarifyBelow)
	assert.Equal(t, 0.7, cfg.Agent.FuzzyShortcutAt)
	assert.Equal(t, 10, cfg.Limit.TurnsPerMinute)
	assert.Equal(t, "guardrails.yaml", cfg.GuardrailsFile)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
port: "9100"
llm:
  provider: openai
  model: gpt-4o-mini
  timeout_seconds: 5
agent:
  clarify_below: 0.3
  confirm_ttl_minutes: 15
`)

	cfg, err := Load(path, "1.0.0")
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 0.3, cfg.Agent.ClarifyBelow)
	assert.Equal(t, 15*time.Minute, cfg.Agent.ConfirmTTL())
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "clarify threshold out of range",
			body: "agent:\n  clarify_below: 1.5\n",
		},
		{
			name: "fuzzy shortcut below clarify threshold",
			body: "agent:\n  clarify_below: 0.8\n  fuzzy_shortcut_at: 0.5\n",
		},
		{
			name: "unknown llm provider",
			body: "llm:\n  provider: ollama\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), "dev")
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "agent",
		Password: "s3cret",
		Database: "podoskin_clinical",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=agent password=s3cret dbname=podoskin_clinical sslmode=require",
		db.ConnectionString())
}

func TestAgentDurationHelpers(t *testing.T) {
	a := AgentConfig{
		DBTimeoutSeconds:  7,
		IdleAfterMinutes:  30,
		ArchiveAfterHours: 72,
	}
	assert.Equal(t, 7*time.Second, a.DBTimeout())
	assert.Equal(t, 30*time.Minute, a.IdleAfter())
	assert.Equal(t, 72*time.Hour, a.ArchiveAfter())
}
