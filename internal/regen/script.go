package regen

import "strings"

// ExtractScript strips a markdown code fence from an LLM response. Models
// wrap code in ```go fences despite instructions not to; bare ``` fences
// and raw unfenced code pass through too.
func ExtractScript(text string) string {
	patterns := []string{
		"```go\n",
		"```go\r\n",
		"```\n",
	}

	for _, pattern := range patterns {
		if idx := strings.Index(text, pattern); idx != -1 {
			start := idx + len(pattern)
			if end := strings.Index(text[start:], "```"); end != -1 {
				return strings.TrimSpace(text[start : start+end])
			}
		}
	}

	return strings.TrimSpace(text)
}
