package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oviney/economist-agents-sub001/internal/config"
)

func TestNewFromConfigOffline(t *testing.T) {
	client, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "offline"})
	require.NoError(t, err)
	assert.IsType(t, &ScriptedClient{}, client)
}

func TestNewFromConfigClaudeCLI(t *testing.T) {
	client, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "claude-cli", Model: "opus"})
	require.NoError(t, err)
	cli, ok := client.(*ClaudeCLIClient)
	require.True(t, ok)
	assert.Equal(t, "opus", cli.GetModel())
}

func TestNewFromConfigUnknownProvider(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "gpt-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestNewFromConfigGeminiNeedsKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err)
}

func TestDetectProvider(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	assert.Equal(t, "gemini", detectProvider(config.LLMConfig{APIKey: "k"}))
	assert.Equal(t, "gemini", detectProvider(config.LLMConfig{}), "gemini is the default")

	t.Setenv("ANTHROPIC_API_KEY", "tok")
	assert.Equal(t, "claude-cli", detectProvider(config.LLMConfig{}))

	t.Setenv("GEMINI_API_KEY", "gk")
	assert.Equal(t, "gemini", detectProvider(config.LLMConfig{}))
}
