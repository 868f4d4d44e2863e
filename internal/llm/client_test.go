package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{Provider: "gemini"}
	assert.Equal(t, "gemini rate limit exceeded", err.Error())

	err = &RateLimitError{Provider: "claude-cli", RetryAfter: 30 * time.Second}
	assert.Contains(t, err.Error(), "retry after 30s")
}

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Rate limit exceeded", true},
		{"error type rate_limit_error", true},
		{"HTTP 429 Too Many Requests", true},
		{"too many requests, slow down", true},
		{"invalid api key", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isRateLimitError(tc.msg), "msg=%q", tc.msg)
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	got := truncateString("abcdefghijklmnop", 10)
	assert.Len(t, got, 10)
	assert.Equal(t, "abcdefg...", got)
}
