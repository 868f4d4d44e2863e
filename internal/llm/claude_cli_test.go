package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaudeCLIResponse(t *testing.T) {
	data := []byte(`{"result":{"content":[{"type":"text","text":"func Draw"},{"type":"text","text":"() {}"}]}}`)
	text, err := parseClaudeCLIResponse(data)
	require.NoError(t, err)
	assert.Equal(t, "func Draw() {}", text)
}

func TestParseClaudeCLIResponseSkipsNonText(t *testing.T) {
	data := []byte(`{"result":{"content":[{"type":"tool_use","text":"ignored"},{"type":"text","text":"kept"}]}}`)
	text, err := parseClaudeCLIResponse(data)
	require.NoError(t, err)
	assert.Equal(t, "kept", text)
}

func TestParseClaudeCLIResponseRateLimited(t *testing.T) {
	t.Run("flag", func(t *testing.T) {
		_, err := parseClaudeCLIResponse([]byte(`{"is_rate_limited":true}`))
		var rle *RateLimitError
		require.True(t, errors.As(err, &rle))
		assert.Equal(t, "claude-cli", rle.Provider)
	})

	t.Run("error message", func(t *testing.T) {
		_, err := parseClaudeCLIResponse([]byte(`{"error":{"type":"rate_limit_error","message":"Rate limit exceeded"}}`))
		var rle *RateLimitError
		require.True(t, errors.As(err, &rle))
	})
}

func TestParseClaudeCLIResponseErrors(t *testing.T) {
	_, err := parseClaudeCLIResponse(nil)
	assert.Error(t, err, "empty input")

	_, err = parseClaudeCLIResponse([]byte(`not json`))
	assert.Error(t, err, "malformed json")

	_, err = parseClaudeCLIResponse([]byte(`{"error":{"type":"invalid_request","message":"bad model"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")

	_, err = parseClaudeCLIResponse([]byte(`{"result":{"content":[]}}`))
	assert.Error(t, err, "no text content")
}

func TestClaudeCLIClientDefaults(t *testing.T) {
	c := NewClaudeCLIClient("", 0)
	assert.Equal(t, "sonnet", c.GetModel())

	c.SetModel("opus")
	assert.Equal(t, "opus", c.GetModel())
}
