// Package report formats QA results for humans: a lipgloss-styled console
// summary, markdown documents for issue reports and stats, and a glamour
// renderer for showing markdown in the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/oviney/economist-agents-sub001/internal/metrics"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#101F38"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// ChartRow is one chart's outcome, as the pipeline hands it over. The
// report package stays ignorant of the regeneration machinery; the caller
// flattens whatever it knows into these rows.
type ChartRow struct {
	RequestID    string
	Title        string
	Accepted     bool
	Attempts     int
	Criticals    int
	Warnings     int
	ArtifactPath string
	Summary      string
}

// RenderConsole formats the aggregate metrics and top failure patterns
// for direct terminal output.
func RenderConsole(sum metrics.Summary, patterns []metrics.FailurePattern) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Chart QA metrics"))
	b.WriteString("\n\n")

	writeStat := func(label string, value string) {
		fmt.Fprintf(&b, "  %-18s %s\n", label, value)
	}
	writeStat("Charts", fmt.Sprintf("%d", sum.TotalCharts))
	writeStat("Validation runs", fmt.Sprintf("%d", sum.TotalValidationRuns))
	writeStat("Passed", successStyle.Render(fmt.Sprintf("%d", sum.PassCount)))
	writeStat("Failed", failStyle.Render(fmt.Sprintf("%d", sum.FailCount)))
	writeStat("Pass rate", passRate(sum))
	writeStat("Regenerations", fmt.Sprintf("%d", sum.TotalRegenerations))
	writeStat("Violations", warnStyle.Render(fmt.Sprintf("%d", sum.TotalViolations)))
	writeStat("Render time", renderTime(sum.TotalRenderTimeMs))

	if len(patterns) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("Top failure patterns"))
		b.WriteString("\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "  %4dx  %s  %s\n", p.Count, mutedStyle.Render(p.RuleID), p.Pattern)
		}
	}

	return b.String()
}

// RenderMarkdown formats the same statistics as a markdown document,
// suitable for writing to disk or piping through RenderTerminal.
func RenderMarkdown(sum metrics.Summary, patterns []metrics.FailurePattern) string {
	var sb strings.Builder

	sb.WriteString("# Chart QA metrics\n\n")
	sb.WriteString("| Metric | Value |\n|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Charts | %d |\n", sum.TotalCharts))
	sb.WriteString(fmt.Sprintf("| Validation runs | %d |\n", sum.TotalValidationRuns))
	sb.WriteString(fmt.Sprintf("| Passed | %d |\n", sum.PassCount))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", sum.FailCount))
	sb.WriteString(fmt.Sprintf("| Pass rate | %s |\n", passRate(sum)))
	sb.WriteString(fmt.Sprintf("| Regenerations | %d |\n", sum.TotalRegenerations))
	sb.WriteString(fmt.Sprintf("| Violations | %d |\n", sum.TotalViolations))
	sb.WriteString(fmt.Sprintf("| Render time | %s |\n", renderTime(sum.TotalRenderTimeMs)))

	if len(patterns) > 0 {
		sb.WriteString("\n## Top failure patterns\n\n")
		sb.WriteString("| Count | Rule | Pattern |\n|-------|------|--------|\n")
		for _, p := range patterns {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s |\n", p.Count, p.RuleID, p.Pattern))
		}
	}

	return sb.String()
}

// IssueMarkdown builds the per-issue report document: a verdict table for
// every chart, then the violation summaries of the ones that failed.
func IssueMarkdown(slug, date string, rows []ChartRow) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Issue report: %s\n\n", slug))
	if date != "" {
		sb.WriteString(fmt.Sprintf("Issue date: %s\n\n", date))
	}
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04")))

	accepted := 0
	for _, r := range rows {
		if r.Accepted {
			accepted++
		}
	}
	sb.WriteString(fmt.Sprintf("%d of %d charts accepted.\n\n", accepted, len(rows)))

	sb.WriteString("| Chart | Verdict | Attempts | Criticals | Warnings | Artifact |\n")
	sb.WriteString("|-------|---------|----------|-----------|----------|----------|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %s |\n",
			chartLabel(r), verdict(r.Accepted), r.Attempts, r.Criticals, r.Warnings, artifactLink(r.ArtifactPath)))
	}

	var failed []ChartRow
	for _, r := range rows {
		if !r.Accepted {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\n## Unresolved charts\n\n")
		for _, r := range failed {
			sb.WriteString(fmt.Sprintf("### %s\n\n", chartLabel(r)))
			if r.Summary != "" {
				sb.WriteString(r.Summary)
				sb.WriteString("\n\n")
			}
		}
	}

	return sb.String()
}

// RenderTerminal renders markdown for the terminal via glamour. On
// renderer failure the raw markdown comes back, so output degrades
// rather than disappears.
func RenderTerminal(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

func chartLabel(r ChartRow) string {
	if r.Title != "" && r.Title != r.RequestID {
		return fmt.Sprintf("%s (`%s`)", r.Title, r.RequestID)
	}
	return fmt.Sprintf("`%s`", r.RequestID)
}

func verdict(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

func artifactLink(path string) string {
	if path == "" {
		return "none"
	}
	base := path
	if i := strings.LastIndexAny(path, `/\`); i != -1 {
		base = path[i+1:]
	}
	return fmt.Sprintf("[%s](%s)", base, path)
}

func passRate(sum metrics.Summary) string {
	total := sum.PassCount + sum.FailCount
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", 100*float64(sum.PassCount)/float64(total))
}

func renderTime(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
