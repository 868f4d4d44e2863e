package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oviney/economist-agents-sub001/internal/metrics"
	"github.com/oviney/economist-agents-sub001/internal/report"
)

var (
	statsTop      int
	statsMarkdown bool
	statsRender   bool
	statsJSON     bool
)

// statsCmd shows the accumulated metrics store
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show accumulated QA metrics and failure patterns",
	Long: `Reads the metrics store and prints the aggregate pass/fail numbers
plus the most frequent validation failure patterns across all sessions.

Example:
  chartqa stats --top 10 --render`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 5, "How many failure patterns to list")
	statsCmd.Flags().BoolVar(&statsMarkdown, "markdown", false, "Emit markdown instead of styled console output")
	statsCmd.Flags().BoolVar(&statsRender, "render", false, "Render the markdown for the terminal")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Emit summary and patterns as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := metrics.Open(metricsPath())
	if err != nil {
		return err
	}

	sum := store.GetSummary()
	patterns := store.TopFailurePatterns(statsTop)

	switch {
	case statsJSON:
		out := struct {
			Summary  metrics.Summary          `json:"summary"`
			Patterns []metrics.FailurePattern `json:"top_failure_patterns"`
		}{sum, patterns}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case statsRender:
		fmt.Print(report.RenderTerminal(report.RenderMarkdown(sum, patterns)))
	case statsMarkdown:
		fmt.Print(report.RenderMarkdown(sum, patterns))
	default:
		fmt.Print(report.RenderConsole(sum, patterns))
	}
	return nil
}
