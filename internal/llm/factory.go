package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/oviney/economist-agents-sub001/internal/config"
)

// NewFromConfig builds the provider named by the config. Provider "auto"
// (or empty) picks the first provider with a credential: gemini when an
// API key is present, otherwise the claude CLI when ANTHROPIC_API_KEY is
// set. Provider "offline" needs no credential at all.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	provider := cfg.Provider
	if provider == "" || provider == "auto" {
		provider = detectProvider(cfg)
	}

	switch provider {
	case "gemini":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		gcfg := DefaultGenAIConfig(apiKey)
		gcfg.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			gcfg.Model = cfg.Model
		}
		if cfg.Timeout != "" {
			gcfg.Timeout = cfg.GetTimeout()
		}
		return NewGenAIClient(ctx, gcfg)

	case "claude-cli":
		var timeout time.Duration
		if cfg.Timeout != "" {
			timeout = cfg.GetTimeout()
		}
		return NewClaudeCLIClient(cfg.Model, timeout), nil

	case "offline":
		return NewOffline(""), nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q (valid: gemini, claude-cli, offline)", provider)
	}
}

// detectProvider resolves "auto" from available credentials. Gemini wins
// ties; construction reports the missing key when neither is set.
func detectProvider(cfg config.LLMConfig) string {
	if cfg.APIKey != "" || os.Getenv("GEMINI_API_KEY") != "" {
		return "gemini"
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return "claude-cli"
	}
	return "gemini"
}
