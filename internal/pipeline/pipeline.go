// Package pipeline orchestrates chart production for a whole issue: it
// fans chart requests out over regeneration controllers with bounded
// concurrency, funnels everything into one metrics session, and writes the
// issue report.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oviney/economist-agents-sub001/internal/dataset"
	"github.com/oviney/economist-agents-sub001/internal/layout"
	"github.com/oviney/economist-agents-sub001/internal/llm"
	"github.com/oviney/economist-agents-sub001/internal/logging"
	"github.com/oviney/economist-agents-sub001/internal/metrics"
	"github.com/oviney/economist-agents-sub001/internal/regen"
	"github.com/oviney/economist-agents-sub001/internal/report"
)

// Config bounds the pipeline's fan-out and names its output directory.
type Config struct {
	Concurrency int
	MaxAttempts int
	OutputDir   string
}

// Runner wires the per-chart machinery together and runs issues through
// it. The metrics store is the only shared mutable state between charts;
// its own locking is the concurrency discipline.
type Runner struct {
	client    llm.Client
	renderer  regen.Renderer
	validator *layout.Validator
	store     *metrics.Store
	cfg       Config
}

// NewRunner builds a Runner. A nil store disables metrics recording.
func NewRunner(client llm.Client, renderer regen.Renderer, validator *layout.Validator, store *metrics.Store, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		client:    client,
		renderer:  renderer,
		validator: validator,
		store:     store,
		cfg:       cfg,
	}
}

// ChartResult is one chart's outcome within an issue. Err is set when the
// chart never reached the regeneration loop (bad request, unreadable
// data) or the loop itself failed; otherwise Result carries the verdict.
type ChartResult struct {
	ID     string
	Title  string
	Result *regen.Result
	Err    error
}

// IssueResult is what RunIssue hands back: every chart's outcome, the
// finalized session summary, and where the report landed.
type IssueResult struct {
	Slug       string
	Charts     []ChartResult
	Summary    metrics.Summary
	ReportPath string
}

// Accepted counts the charts that passed validation.
func (r *IssueResult) Accepted() int {
	n := 0
	for _, c := range r.Charts {
		if c.Result != nil && c.Result.Accepted {
			n++
		}
	}
	return n
}

// RunIssue produces every chart in an issue file. Charts run concurrently
// up to the configured limit; a chart that fails is reported and moved
// past, never aborting its siblings. The session is finalized and the
// issue report written no matter how many charts failed.
func (r *Runner) RunIssue(ctx context.Context, issuePath string) (*IssueResult, error) {
	issue, err := dataset.LoadIssue(issuePath)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(issuePath)

	logging.Pipeline("issue %s: %d charts, concurrency %d", issue.Slug, len(issue.Charts), r.cfg.Concurrency)
	started := time.Now()
	if r.store != nil {
		logging.Audit().SessionStart(r.store.SessionID())
	}

	results := make([]ChartResult, len(issue.Charts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := range issue.Charts {
		i := i
		req := issue.Charts[i]
		g.Go(func() error {
			// Chart failures land in the result slot; returning an
			// error here would cancel the siblings.
			results[i] = r.runChart(gctx, req, baseDir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.PipelineError("issue %s: %v", issue.Slug, err)
	}

	out := &IssueResult{Slug: issue.Slug, Charts: results}

	if r.store != nil {
		summary, err := r.store.FinalizeSession()
		if err != nil {
			logging.PipelineWarn("issue %s: finalizing metrics: %v", issue.Slug, err)
		}
		out.Summary = summary
		logging.Audit().SessionEnd(r.store.SessionID(), len(results), time.Since(started).Milliseconds())
	}

	reportPath, err := r.writeIssueReport(issue, results)
	if err != nil {
		logging.PipelineError("issue %s: writing report: %v", issue.Slug, err)
		logging.Audit().Error(string(logging.CategoryPipeline), err, true)
		return out, err
	}
	out.ReportPath = reportPath

	logging.Pipeline("issue %s done: %d/%d accepted, report at %s",
		issue.Slug, out.Accepted(), len(results), reportPath)
	return out, nil
}

// RunRequest produces a single chart from a request file and finalizes
// the metrics session around it.
func (r *Runner) RunRequest(ctx context.Context, requestPath string) (*regen.Result, error) {
	req, err := dataset.LoadRequest(requestPath)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	if r.store != nil {
		logging.Audit().SessionStart(r.store.SessionID())
	}
	cr := r.runChart(ctx, *req, filepath.Dir(requestPath))

	if r.store != nil {
		if _, err := r.store.FinalizeSession(); err != nil {
			logging.PipelineWarn("request %s: finalizing metrics: %v", req.ID, err)
		}
		logging.Audit().SessionEnd(r.store.SessionID(), 1, time.Since(started).Milliseconds())
	}
	if cr.Err != nil {
		return nil, cr.Err
	}
	return cr.Result, nil
}

func (r *Runner) runChart(ctx context.Context, req dataset.Request, baseDir string) ChartResult {
	out := ChartResult{ID: req.ID, Title: req.Title}

	resolved, err := req.Resolve(baseDir)
	if err != nil {
		logging.PipelineWarn("chart %s: %v", req.ID, err)
		out.Err = err
		return out
	}

	var collector regen.Collector
	if r.store != nil {
		collector = r.store
	}
	ctrl := regen.NewController(r.client, r.renderer, r.validator, collector, regen.Config{MaxAttempts: r.cfg.MaxAttempts})

	res, err := ctrl.Run(ctx, regen.Request{
		ID:         req.ID,
		Spec:       resolved.Spec,
		SourceNote: resolved.SourceNote,
		DataNotes:  resolved.DataNotes,
	})
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = res
	return out
}

func (r *Runner) writeIssueReport(issue *dataset.Issue, results []ChartResult) (string, error) {
	rows := make([]report.ChartRow, 0, len(results))
	for _, cr := range results {
		rows = append(rows, chartRow(cr))
	}
	md := report.IssueMarkdown(issue.Slug, issue.Date, rows)

	dir := r.cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("issue_%s_report.md", issue.Slug))
	if err := os.WriteFile(path, []byte(md), 0644); err != nil {
		return "", fmt.Errorf("write issue report: %w", err)
	}
	return path, nil
}

func chartRow(cr ChartResult) report.ChartRow {
	row := report.ChartRow{RequestID: cr.ID, Title: cr.Title}
	if cr.Err != nil {
		row.Summary = cr.Err.Error()
		return row
	}
	res := cr.Result
	row.Accepted = res.Accepted
	row.Attempts = res.Attempts
	row.ArtifactPath = res.ArtifactPath
	if res.Report != nil {
		row.Criticals = res.Report.CriticalCount()
		row.Warnings = res.Report.WarningCount()
		if !res.Accepted {
			row.Summary = violationSummary(res.Report)
		}
	} else if !res.Accepted {
		row.Summary = "no attempt rendered"
	}
	return row
}

// violationSummary lists a failed report's critical violations as
// markdown bullets, capped so a pathological chart stays readable.
func violationSummary(rep *layout.Report) string {
	const maxListed = 5

	var b strings.Builder
	listed := 0
	for _, v := range rep.Violations {
		if v.Severity != layout.SeverityCritical {
			continue
		}
		if listed == maxListed {
			break
		}
		fmt.Fprintf(&b, "- %s\n", v.String())
		listed++
	}
	if extra := rep.CriticalCount() - listed; extra > 0 {
		fmt.Fprintf(&b, "- plus %d more\n", extra)
	}
	return strings.TrimRight(b.String(), "\n")
}
