package regen

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oviney/economist-agents-sub001/internal/canvas"
	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/llm"
	"github.com/oviney/economist-agents-sub001/internal/metrics"
	"github.com/oviney/economist-agents-sub001/internal/render"
	"github.com/oviney/economist-agents-sub001/internal/sandbox"
)

// inlineRenderer runs instructions through the real sandbox in-process,
// standing in for the renderbox subprocess. No PNG is written; the
// artifact path is synthesized the way the backend would.
type inlineRenderer struct{}

func (r *inlineRenderer) Render(ctx context.Context, spec *chartspec.ChartSpec, instructions, requestID string, attemptNo int) (*render.Attempt, error) {
	if spec == nil || strings.TrimSpace(instructions) == "" {
		return nil, fmt.Errorf("bad render call")
	}
	attempt := &render.Attempt{Number: attemptNo, Instructions: instructions}
	c := canvas.New(spec)
	if err := sandbox.NewEvaluator().Evaluate(ctx, instructions, c); err != nil {
		attempt.RenderError = err.Error()
		return attempt, nil
	}
	attempt.RenderOK = true
	attempt.Elements = c.Elements()
	attempt.ArtifactPath = filepath.Join("artifacts", render.ArtifactName(requestID, attemptNo))
	return attempt, nil
}

// recordingCollector captures what the controller reports without a store.
type recordingCollector struct {
	started     []string
	attempts    []recordedAttempt
	transitions []string
}

type recordedAttempt struct {
	number    int
	renderOK  bool
	hasReport bool
	passed    bool
}

func (c *recordingCollector) StartChart(requestID string) *metrics.ChartHandle {
	c.started = append(c.started, requestID)
	return nil
}

func (c *recordingCollector) RecordAttempt(h *metrics.ChartHandle, attempt *render.Attempt, report *layout.Report) {
	rec := recordedAttempt{number: attempt.Number, renderOK: attempt.RenderOK, hasReport: report != nil}
	if report != nil {
		rec.passed = report.Passed
	}
	c.attempts = append(c.attempts, rec)
}

func (c *recordingCollector) RecordTransition(h *metrics.ChartHandle, from, to string) {
	c.transitions = append(c.transitions, from+">"+to)
}

const badTitleScript = `import "chartqa/canvas"

func Draw(c *canvas.Canvas) error {
	c.Title(c.Spec().Title, 0.05, 0.93)
	c.Plot()
	return nil
}`

const brokenScript = `func Draw( {`

func goodScript() string {
	return llm.OfflineScript("Source: Eurostat")
}

func lineSpec(t *testing.T) *chartspec.ChartSpec {
	t.Helper()
	spec, err := chartspec.New("GDP growth", "Annual, %", chartspec.KindLine, []chartspec.Series{
		{Name: "France", Values: []float64{1.2, 1.8, 0.9, 1.4}},
	})
	require.NoError(t, err)
	return spec
}

func newController(client llm.Client, collector Collector, maxAttempts int) *Controller {
	return NewController(client, &inlineRenderer{}, layout.NewValidator(layout.DefaultThresholds()), collector, Config{MaxAttempts: maxAttempts})
}

func historyPairs(res *Result) []string {
	out := make([]string, 0, len(res.History))
	for _, tr := range res.History {
		out = append(out, string(tr.From)+">"+string(tr.To))
	}
	return out
}

func TestAcceptedOnFirstAttempt(t *testing.T) {
	client := llm.NewScripted(goodScript())
	collector := &recordingCollector{}

	res, err := newController(client, collector, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, StateAccepted, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "gdp", res.RequestID)
	assert.Contains(t, res.ArtifactPath, "gdp_attempt01.png")
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Passed)

	assert.Equal(t, []string{
		"requested>generating",
		"generating>rendering",
		"rendering>validating",
		"validating>accepted",
	}, historyPairs(res))
	assert.Equal(t, collector.transitions, historyPairs(res), "transitions reach the collector as they occur")
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, []string{"gdp"}, collector.started)
}

func TestRetriesAfterValidationFailure(t *testing.T) {
	client := llm.NewScripted(badTitleScript, goodScript())
	collector := &recordingCollector{}

	res, err := newController(client, collector, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, res.ArtifactPath, "attempt02")
	assert.Equal(t, 2, client.Calls())

	assert.Equal(t, []string{
		"requested>generating",
		"generating>rendering",
		"rendering>validating",
		"validating>retrying",
		"retrying>generating",
		"generating>rendering",
		"rendering>validating",
		"validating>accepted",
	}, historyPairs(res))

	// The retry prompt carries the violation and the boundary it broke.
	prompts := client.Prompts()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "failed")
	assert.Contains(t, prompts[1], "title overlaps brand bar")
	assert.Contains(t, prompts[1], "keep it at or below y=0.94")
}

func TestExhaustsRetryBudget(t *testing.T) {
	client := llm.NewScripted(badTitleScript, badTitleScript, badTitleScript)
	collector := &recordingCollector{}

	res, err := newController(client, collector, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Equal(t, StateExhausted, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, client.Calls(), "budget bounds LLM calls")

	// All attempts tie on one critical violation, so the earliest is the
	// best attempt on offer.
	assert.Contains(t, res.ArtifactPath, "attempt01")
	require.NotNil(t, res.Report)
	assert.False(t, res.Report.Passed)
	assert.Equal(t, 1, res.Report.CriticalCount())

	assert.Equal(t, "validating>exhausted", historyPairs(res)[len(res.History)-1])
}

func TestSmallerBudgetIsHonored(t *testing.T) {
	client := llm.NewScripted(badTitleScript, badTitleScript, badTitleScript)

	res, err := newController(client, &recordingCollector{}, 2).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, client.Calls())
}

func TestRenderFailureSkipsValidation(t *testing.T) {
	client := llm.NewScripted(brokenScript, goodScript())
	collector := &recordingCollector{}

	res, err := newController(client, collector, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.Attempts)

	// The failed render goes straight to retrying, never validating.
	assert.Equal(t, []string{
		"requested>generating",
		"generating>rendering",
		"rendering>retrying",
		"retrying>generating",
		"generating>rendering",
		"rendering>validating",
		"validating>accepted",
	}, historyPairs(res))

	require.Len(t, collector.attempts, 2)
	assert.False(t, collector.attempts[0].renderOK)
	assert.False(t, collector.attempts[0].hasReport, "no validation report for a failed render")
	assert.True(t, collector.attempts[1].passed)

	prompts := client.Prompts()
	assert.Contains(t, prompts[1], "did not render")
}

func TestBestAttemptPrefersRenderedOverFailed(t *testing.T) {
	client := llm.NewScripted(brokenScript, badTitleScript, brokenScript)

	res, err := newController(client, &recordingCollector{}, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Contains(t, res.ArtifactPath, "attempt02", "the only rendered attempt wins")
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.CriticalCount())
}

func TestAllRendersFailed(t *testing.T) {
	client := llm.NewScripted(brokenScript, brokenScript, brokenScript)

	res, err := newController(client, &recordingCollector{}, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Equal(t, StateExhausted, res.Outcome)
	assert.Empty(t, res.ArtifactPath, "no artifact was ever produced")
	assert.Nil(t, res.Report)
}

func TestInvalidSpecStopsBeforeLLM(t *testing.T) {
	client := llm.NewScripted(goodScript())
	collector := &recordingCollector{}

	badSpec := &chartspec.ChartSpec{Kind: chartspec.KindLine, Zones: chartspec.DefaultZones()}
	_, err := newController(client, collector, 3).Run(context.Background(), Request{ID: "gdp", Spec: badSpec})
	require.Error(t, err)

	var specErr *chartspec.SpecError
	assert.True(t, errors.As(err, &specErr))
	assert.Equal(t, 0, client.Calls(), "no LLM call for an invalid spec")
	assert.Empty(t, collector.started)
}

func TestNilSpecRejected(t *testing.T) {
	_, err := newController(llm.NewScripted(), &recordingCollector{}, 3).Run(context.Background(), Request{ID: "gdp"})
	assert.Error(t, err)
}

func TestCanceledContextStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := llm.NewScripted(goodScript())
	_, err := newController(client, &recordingCollector{}, 3).Run(ctx, Request{ID: "gdp", Spec: lineSpec(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.Calls())
}

func TestGenerationErrorConsumesAttempt(t *testing.T) {
	// An empty queue makes every call fail, standing in for provider errors.
	client := llm.NewScripted()
	collector := &recordingCollector{}

	res, err := newController(client, collector, 2).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)

	assert.False(t, res.Accepted)
	assert.Equal(t, StateExhausted, res.Outcome)
	require.Len(t, collector.attempts, 2)
	assert.False(t, collector.attempts[0].renderOK)
	assert.Contains(t, res.History[len(res.History)-1].Note, "generation failed")
}

func TestNilCollectorIsFine(t *testing.T) {
	client := llm.NewScripted(goodScript())

	res, err := NewController(client, &inlineRenderer{}, layout.NewValidator(layout.DefaultThresholds()), nil, Config{}).
		Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

// Exercises the controller against the real metrics store: identical
// violations across a session must fold into one counted pattern.
func TestMetricsRecordingAndDeduplication(t *testing.T) {
	store, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.json"))
	require.NoError(t, err)

	client := llm.NewScripted(badTitleScript, badTitleScript, badTitleScript)
	res, err := newController(client, store, 3).Run(context.Background(), Request{ID: "gdp", Spec: lineSpec(t)})
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	summary, err := store.FinalizeSession()
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalCharts)
	assert.Equal(t, 3, summary.TotalValidationRuns)
	assert.Equal(t, 0, summary.PassCount)
	assert.Equal(t, 3, summary.FailCount)
	assert.Equal(t, 2, summary.TotalRegenerations)
	assert.Equal(t, 3, summary.TotalViolations)

	patterns := store.TopFailurePatterns(5)
	require.Len(t, patterns, 1, "one deduplicated pattern for three identical violations")
	assert.Equal(t, layout.RuleZoneOverlap, patterns[0].RuleID)
	assert.Equal(t, "title overlaps brand bar", patterns[0].Pattern)
	assert.Equal(t, 3, patterns[0].Count)
}
