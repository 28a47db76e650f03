package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/podoskin/agent-core/pkg/config"
)

// NewFromConfig builds the configured client implementation.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	clientCfg := &Config{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(clientCfg, logger)
	case "openai":
		return NewOpenAIClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
