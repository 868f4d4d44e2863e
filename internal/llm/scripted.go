package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedClient replays queued responses in order. It backs --offline runs
// and lets tests drive the regeneration loop deterministically. Safe for
// concurrent use; pipeline workers share one client.
type ScriptedClient struct {
	mu      sync.Mutex
	queue   []string
	repeat  bool
	prompts []string
	systems []string
}

// NewScripted queues the given responses; each call consumes one. Once the
// queue drains, further calls fail.
func NewScripted(responses ...string) *ScriptedClient {
	return &ScriptedClient{queue: append([]string(nil), responses...)}
}

// NewScriptedRepeat replays a single response for every call. Used when the
// number of calls is not known up front, such as a concurrent issue run.
func NewScriptedRepeat(response string) *ScriptedClient {
	return &ScriptedClient{queue: []string{response}, repeat: true}
}

// Complete returns the next queued response.
func (c *ScriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem returns the next queued response, recording both
// prompts for later inspection.
func (c *ScriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.systems = append(c.systems, systemPrompt)
	c.prompts = append(c.prompts, userPrompt)

	if len(c.queue) == 0 {
		return "", fmt.Errorf("scripted client exhausted after %d responses", len(c.prompts)-1)
	}
	resp := c.queue[0]
	if !c.repeat || len(c.queue) > 1 {
		c.queue = c.queue[1:]
	}
	return resp, nil
}

// Calls returns how many completions were requested.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// Prompts returns a copy of every user prompt seen so far.
func (c *ScriptedClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Systems returns a copy of every system prompt seen so far.
func (c *ScriptedClient) Systems() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.systems...)
}

// NewOffline returns a client that always answers with the house template
// script. No network, no key, deterministic output for any valid spec.
func NewOffline(sourceNote string) *ScriptedClient {
	return NewScriptedRepeat(OfflineScript(sourceNote))
}

// OfflineScript is the house template rendering script. It reads everything
// it draws from the spec at run time, so the one script serves any chart:
// title and subtitle in the title zone, the full plot, numbered tick labels,
// and the source line when a note is given.
func OfflineScript(sourceNote string) string {
	sourceLine := ""
	if strings.TrimSpace(sourceNote) != "" {
		sourceLine = fmt.Sprintf("\tc.Source(%q, 0.05, 0.012)\n", sourceNote)
	}
	return `import (
	"strconv"

	"chartqa/canvas"
)

func Draw(c *canvas.Canvas) error {
	s := c.Spec()
	c.BrandBar()
	c.Title(s.Title, 0.05, 0.885)
	if s.Subtitle != "" {
		c.Subtitle(s.Subtitle, 0.05, 0.851)
	}
	c.Plot()
	ticks := make([]string, s.MaxPoints())
	for i := range ticks {
		ticks[i] = strconv.Itoa(i + 1)
	}
	c.XAxisLabels(0.06, ticks...)
` + sourceLine + `	return nil
}
`
}
