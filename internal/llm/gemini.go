package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/oviney/economist-agents-sub001/internal/logging"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// scriptTemperature keeps instruction generation near-deterministic.
// Rendering scripts are code, not prose; variety only adds layout churn.
const scriptTemperature float32 = 0.2

// GenAIClient implements Client on the Gemini API via google.golang.org/genai.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// GenAIConfig holds configuration for the Gemini client.
type GenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// DefaultGenAIConfig returns sensible defaults.
func DefaultGenAIConfig(apiKey string) GenAIConfig {
	return GenAIConfig{
		APIKey:  apiKey,
		Model:   DefaultGeminiModel,
		Timeout: 120 * time.Second,
	}
}

// NewGenAIClient creates a Gemini-backed client.
func NewGenAIClient(ctx context.Context, cfg GenAIConfig) (*GenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini API key is required (set GEMINI_API_KEY)")
	}
	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GenAIClient{client: client, model: model, timeout: timeout}, nil
}

// Complete sends a prompt to Gemini and returns the completion text.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with an optional system instruction.
func (c *GenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(scriptTemperature),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		logging.Audit().LLMCall(c.model, 0, time.Since(start).Milliseconds(), false, err.Error())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("gemini request timed out after %v: %w", c.timeout, ctx.Err())
		}
		if isRateLimitError(err.Error()) {
			return "", &RateLimitError{Provider: "gemini", RawResponse: err.Error()}
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	logging.Audit().LLMCall(c.model, tokens, time.Since(start).Milliseconds(), true, "")

	return extractGeminiText(resp)
}

// extractGeminiText pulls the text parts out of the first candidate. The
// response shape varies with safety blocks and tool use, so every layer is
// nil-checked.
func extractGeminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("empty response from gemini")
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return "", errors.New("gemini response has no content (possibly safety-blocked)")
	}

	var b strings.Builder
	for _, part := range content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("no text content in gemini response")
	}
	return text, nil
}

// SetModel changes the model used for completions.
func (c *GenAIClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *GenAIClient) GetModel() string {
	return c.model
}
