package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runOffline  bool
	runAttempts int
	runOut      string
)

// runCmd produces every chart in an issue file
var runCmd = &cobra.Command{
	Use:   "run [issue.yaml]",
	Short: "Produce every chart in an issue file",
	Long: `Runs all charts of an issue through the generation pipeline with
bounded concurrency. A chart that fails stays in the issue report as
rejected; it never aborts its siblings. The report lands next to the
artifacts as issue_<slug>_report.md.

Example:
  chartqa run issues/2026-08-22.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runIssue,
}

func init() {
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "Use the built-in script writer instead of an LLM")
	runCmd.Flags().IntVar(&runAttempts, "attempts", 0, "Retry budget override (default from config)")
	runCmd.Flags().StringVar(&runOut, "out", "", "Artifact output directory (default from config)")
}

func runIssue(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	runner, _, err := buildRunner(ctx, runOffline, runAttempts, runOut)
	if err != nil {
		return err
	}

	res, err := runner.RunIssue(ctx, args[0])
	if err != nil {
		return err
	}

	for _, c := range res.Charts {
		switch {
		case c.Err != nil:
			fmt.Printf("chart %s: failed: %v\n", c.ID, c.Err)
		case c.Result.Accepted:
			fmt.Printf("chart %s: accepted after %d attempt(s) -> %s\n", c.ID, c.Result.Attempts, c.Result.ArtifactPath)
		default:
			fmt.Printf("chart %s: rejected after %d attempt(s)\n", c.ID, c.Result.Attempts)
		}
	}

	fmt.Printf("\nissue %s: %d of %d charts accepted\n", res.Slug, res.Accepted(), len(res.Charts))
	fmt.Printf("report: %s\n", res.ReportPath)
	return nil
}
