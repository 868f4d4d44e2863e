package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oviney/economist-agents-sub001/internal/canvas"
	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/sandbox"
)

func TestScriptedClientQueue(t *testing.T) {
	c := NewScripted("first", "second")

	got, err := c.Complete(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = c.CompleteWithSystem(context.Background(), "sys", "p2")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = c.Complete(context.Background(), "p3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")

	assert.Equal(t, 3, c.Calls())
	assert.Equal(t, []string{"p1", "p2", "p3"}, c.Prompts())
	assert.Equal(t, []string{"", "sys", ""}, c.Systems())
}

func TestScriptedClientRepeat(t *testing.T) {
	c := NewScriptedRepeat("only")
	for i := 0; i < 5; i++ {
		got, err := c.Complete(context.Background(), "p")
		require.NoError(t, err)
		assert.Equal(t, "only", got)
	}
}

func TestScriptedClientHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScripted("resp").Complete(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

// The offline template has to hold its own against the layout rules, or
// --offline runs would burn their whole retry budget on a fixed script.
func TestOfflineScriptPassesValidation(t *testing.T) {
	spec, err := chartspec.New("GDP growth", "Annual, %", chartspec.KindLine, []chartspec.Series{
		{Name: "France", Values: []float64{1.2, 1.8, 0.9, 1.4}},
		{Name: "Germany", Values: []float64{0.4, 1.1, 1.6, 0.8}},
	})
	require.NoError(t, err)

	c := canvas.New(spec)
	script := OfflineScript("Source: Eurostat")
	require.NoError(t, sandbox.NewEvaluator().Evaluate(context.Background(), script, c))

	report := layout.NewValidator(layout.DefaultThresholds()).Validate(spec, c.Elements())
	for _, v := range report.Violations {
		t.Logf("violation: %s", v)
	}
	assert.True(t, report.Passed)

	kinds := map[layout.ElementKind]int{}
	for _, el := range c.Elements() {
		kinds[el.Kind]++
	}
	assert.Equal(t, 2, kinds[layout.ElementTitle], "title and subtitle")
	assert.Equal(t, 8, kinds[layout.ElementDataPoint])
	assert.Equal(t, 4, kinds[layout.ElementAxisTick])
	assert.Equal(t, 1, kinds[layout.ElementSource])
}

func TestOfflineScriptOmitsEmptySource(t *testing.T) {
	assert.NotContains(t, OfflineScript(""), "c.Source")
	assert.Contains(t, OfflineScript("Source: IMF"), `c.Source("Source: IMF"`)
}
