package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLIClient implements Client by shelling out to the locally installed
// `claude` binary. It runs `claude -p --output-format json --model <model>`
// and parses the JSON envelope. Useful where no API key is on the machine
// but an authenticated CLI session is.
type ClaudeCLIClient struct {
	model   string
	timeout time.Duration
}

// claudeCLIResponse is the JSON envelope from `claude --output-format json`.
type claudeCLIResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	IsRateLimited bool `json:"is_rate_limited,omitempty"`
}

// NewClaudeCLIClient creates a CLI-backed client. Zero values get defaults:
// model "sonnet", timeout 300s.
func NewClaudeCLIClient(model string, timeout time.Duration) *ClaudeCLIClient {
	if model == "" {
		model = "sonnet"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &ClaudeCLIClient{model: model, timeout: timeout}
}

// Complete sends a prompt to the claude CLI and returns the completion.
func (c *ClaudeCLIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem prepends the system prompt to the user prompt, since
// the CLI takes a single -p argument.
func (c *ClaudeCLIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prompt := userPrompt
	if strings.TrimSpace(systemPrompt) != "" {
		prompt = fmt.Sprintf("[System Instructions]\n%s\n\n[User Request]\n%s", systemPrompt, userPrompt)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "claude",
		"-p", prompt,
		"--output-format", "json",
		"--model", c.model,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("claude CLI timed out after %v: %w", c.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("claude CLI execution canceled: %w", ctx.Err())
		}
		if isRateLimitError(stderr.String()) {
			return "", &RateLimitError{Provider: "claude-cli", RawResponse: stderr.String()}
		}
		return "", fmt.Errorf("claude CLI execution failed: %w (stderr: %s)", err, truncateString(stderr.String(), 500))
	}

	return parseClaudeCLIResponse(stdout.Bytes())
}

// parseClaudeCLIResponse extracts the assistant text from the JSON envelope.
func parseClaudeCLIResponse(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty response from claude CLI")
	}

	var resp claudeCLIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal claude CLI response: %w (raw: %s)", err, truncateString(string(data), 500))
	}

	if resp.IsRateLimited {
		return "", &RateLimitError{Provider: "claude-cli", RawResponse: string(data)}
	}
	if resp.Error != nil {
		if isRateLimitError(resp.Error.Message) || isRateLimitError(resp.Error.Type) {
			return "", &RateLimitError{Provider: "claude-cli", RawResponse: resp.Error.Message}
		}
		return "", fmt.Errorf("claude CLI error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}

	var b strings.Builder
	for _, block := range resp.Result.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("no text content in claude CLI response")
	}
	return text, nil
}

// SetModel changes the model used for completions.
func (c *ClaudeCLIClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *ClaudeCLIClient) GetModel() string {
	return c.model
}
