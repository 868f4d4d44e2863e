package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oviney/economist-agents-sub001/internal/canvas"
	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/llm"
	"github.com/oviney/economist-agents-sub001/internal/metrics"
	"github.com/oviney/economist-agents-sub001/internal/regen"
	"github.com/oviney/economist-agents-sub001/internal/render"
	"github.com/oviney/economist-agents-sub001/internal/sandbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// evalRenderer runs instructions through the real sandbox in-process, so
// pipeline tests exercise true render/validate behavior without the
// renderbox subprocess.
type evalRenderer struct{}

func (r *evalRenderer) Render(ctx context.Context, spec *chartspec.ChartSpec, instructions, requestID string, attemptNo int) (*render.Attempt, error) {
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

const overflowTitleScript = `import "chartqa/canvas"

func Draw(c *canvas.Canvas) error {
	c.Title(c.Spec().Title, 0.05, 0.93)
	c.Plot()
	return nil
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const issueYAML = `slug: weekly
date: "2026-08-22"
charts:
  - id: gdp
    title: GDP growth
    kind: line
    source: "Source: Eurostat"
    series:
      - name: France
        values: [1.2, 1.8, 0.9, 1.4]
  - id: jobs
    title: Unemployment rate
    kind: line
    series:
      - name: Germany
        values: [5.0, 5.2, 4.9]
`

func newTestRunner(t *testing.T, client llm.Client, outDir string) (*Runner, *metrics.Store) {
	t.Helper()
	store, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.json"))
	require.NoError(t, err)
	runner := NewRunner(client, &evalRenderer{}, layout.NewValidator(layout.DefaultThresholds()), store, Config{
		Concurrency: 2,
		MaxAttempts: 3,
		OutputDir:   outDir,
	})
	return runner, store
}

func TestRunIssueAllAccepted(t *testing.T) {
	dir := t.TempDir()
	issuePath := writeFile(t, dir, "weekly.yaml", issueYAML)
	outDir := filepath.Join(dir, "out")

	runner, _ := newTestRunner(t, llm.NewScriptedRepeat(llm.OfflineScript("Source: Eurostat")), outDir)

	res, err := runner.RunIssue(context.Background(), issuePath)
	require.NoError(t, err)

	assert.Equal(t, "weekly", res.Slug)
	assert.Equal(t, 2, res.Accepted())
	require.Len(t, res.Charts, 2)
	for _, c := range res.Charts {
		require.NoError(t, c.Err)
		assert.True(t, c.Result.Accepted)
		assert.Equal(t, 1, c.Result.Attempts)
	}

	assert.Equal(t, 2, res.Summary.TotalCharts)
	assert.Equal(t, 2, res.Summary.PassCount)
	assert.Equal(t, 0, res.Summary.FailCount)

	assert.Equal(t, filepath.Join(outDir, "issue_weekly_report.md"), res.ReportPath)
	md, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Issue report: weekly")
	assert.Contains(t, string(md), "2 of 2 charts accepted.")
	assert.Contains(t, string(md), "gdp_attempt01.png")
}

func TestRunIssueFailedChartDoesNotAbortSiblings(t *testing.T) {
	dir := t.TempDir()
	issuePath := writeFile(t, dir, "mixed.yaml", `charts:
  - id: broken
    title: Broken chart
    kind: pie
    series:
      - name: A
        values: [1, 2, 3]
  - id: gdp
    title: GDP growth
    kind: line
    series:
      - name: France
        values: [1.2, 1.8, 0.9]
`)

	runner, _ := newTestRunner(t, llm.NewScriptedRepeat(llm.OfflineScript("")), dir)

	res, err := runner.RunIssue(context.Background(), issuePath)
	require.NoError(t, err)

	require.Len(t, res.Charts, 2)
	require.Error(t, res.Charts[0].Err)
	assert.Contains(t, res.Charts[0].Err.Error(), "unknown kind")
	require.NoError(t, res.Charts[1].Err)
	assert.True(t, res.Charts[1].Result.Accepted)
	assert.Equal(t, 1, res.Accepted())

	md, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "1 of 2 charts accepted.")
	assert.Contains(t, string(md), "| rejected |")
	assert.Contains(t, string(md), "unknown kind")
}

func TestRunIssueExhaustedChartsStillReport(t *testing.T) {
	dir := t.TempDir()
	issuePath := writeFile(t, dir, "weekly.yaml", issueYAML)

	runner, _ := newTestRunner(t, llm.NewScriptedRepeat(overflowTitleScript), dir)

	res, err := runner.RunIssue(context.Background(), issuePath)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Accepted())
	for _, c := range res.Charts {
		require.NoError(t, c.Err)
		assert.Equal(t, regen.StateExhausted, c.Result.Outcome)
		assert.Equal(t, 3, c.Result.Attempts)
	}

	assert.Equal(t, 2, res.Summary.TotalCharts)
	assert.Equal(t, 6, res.Summary.FailCount)
	assert.Equal(t, 4, res.Summary.TotalRegenerations)

	md, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "0 of 2 charts accepted.")
	assert.Contains(t, string(md), "## Unresolved charts")
	assert.Contains(t, string(md), "title overlaps brand bar")
}

func TestRunIssueMissingFile(t *testing.T) {
	runner, _ := newTestRunner(t, llm.NewScriptedRepeat(llm.OfflineScript("")), t.TempDir())
	_, err := runner.RunIssue(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRunRequest(t *testing.T) {
	dir := t.TempDir()
	reqPath := writeFile(t, dir, "gdp.yaml", `title: GDP growth
kind: line
source: "Source: Eurostat"
series:
  - name: France
    values: [1.2, 1.8, 0.9, 1.4]
`)

	runner, store := newTestRunner(t, llm.NewScriptedRepeat(llm.OfflineScript("Source: Eurostat")), dir)

	res, err := runner.RunRequest(context.Background(), reqPath)
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, "gdp", res.RequestID, "request id defaults to the file stem")
	assert.Equal(t, 1, store.GetSummary().TotalCharts, "the session is finalized")
}

func TestRunRequestBadRequest(t *testing.T) {
	dir := t.TempDir()
	reqPath := writeFile(t, dir, "empty.yaml", "title: No data\nkind: line\n")

	runner, _ := newTestRunner(t, llm.NewScriptedRepeat(llm.OfflineScript("")), dir)

	_, err := runner.RunRequest(context.Background(), reqPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no series data")
}

func TestRunnerWithoutStore(t *testing.T) {
	dir := t.TempDir()
	reqPath := writeFile(t, dir, "gdp.yaml", `title: GDP growth
kind: line
series:
  - name: France
    values: [1.2, 1.8, 0.9]
`)

	runner := NewRunner(llm.NewScriptedRepeat(llm.OfflineScript("")), &evalRenderer{},
		layout.NewValidator(layout.DefaultThresholds()), nil, Config{MaxAttempts: 3, OutputDir: dir})

	res, err := runner.RunRequest(context.Background(), reqPath)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}
