package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oviney/economist-agents-sub001/internal/pipeline"
	"github.com/oviney/economist-agents-sub001/internal/regen"
)

var (
	generateWatch    bool
	generateOffline  bool
	generateAttempts int
	generateOut      string
)

// generateCmd produces a single chart from a request file
var generateCmd = &cobra.Command{
	Use:   "generate [request.yaml]",
	Short: "Produce one chart from a request file",
	Long: `Loads a chart request, asks the configured LLM for a rendering script,
renders it in the isolated runner, and validates the layout. Failed
layouts are regenerated with feedback up to the retry budget.

With --watch, the request file is monitored and the chart regenerated on
every change. With --offline, a built-in script writer replaces the LLM,
which keeps the whole loop deterministic and free.

Example:
  chartqa generate requests/gdp.yaml --attempts 5 --out artifacts`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generateWatch, "watch", false, "Regenerate whenever the request file changes")
	generateCmd.Flags().BoolVar(&generateOffline, "offline", false, "Use the built-in script writer instead of an LLM")
	generateCmd.Flags().IntVar(&generateAttempts, "attempts", 0, "Retry budget override (default from config)")
	generateCmd.Flags().StringVar(&generateOut, "out", "", "Artifact output directory (default from config)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	runner, _, err := buildRunner(ctx, generateOffline, generateAttempts, generateOut)
	if err != nil {
		return err
	}

	requestPath := args[0]
	if err := generateOnce(ctx, runner, requestPath); err != nil {
		if !generateWatch {
			return err
		}
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
	}

	if !generateWatch {
		return nil
	}

	watcher, err := pipeline.NewWatcher(requestPath, func(wctx context.Context, path string) {
		if err := generateOnce(wctx, runner, path); err != nil {
			fmt.Fprintf(os.Stderr, "regeneration failed: %v\n", err)
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Println("Watching for changes. Ctrl-C to stop.")
	<-ctx.Done()
	return nil
}

func generateOnce(ctx context.Context, runner *pipeline.Runner, path string) error {
	res, err := runner.RunRequest(ctx, path)
	if err != nil {
		return err
	}
	printVerdict(res)
	if !res.Accepted {
		return fmt.Errorf("chart %s was not accepted after %d attempts", res.RequestID, res.Attempts)
	}
	return nil
}

func printVerdict(res *regen.Result) {
	if res.Accepted {
		fmt.Printf("chart %s: accepted after %d attempt(s)\n", res.RequestID, res.Attempts)
		fmt.Printf("  artifact: %s\n", res.ArtifactPath)
		if res.Report != nil && res.Report.WarningCount() > 0 {
			fmt.Printf("  warnings: %d\n", res.Report.WarningCount())
		}
		return
	}

	fmt.Printf("chart %s: rejected after %d attempt(s)\n", res.RequestID, res.Attempts)
	if res.ArtifactPath != "" {
		fmt.Printf("  best attempt: %s\n", res.ArtifactPath)
	}
	if res.Report != nil {
		for _, v := range res.Report.Violations {
			fmt.Printf("  %s\n", v.String())
		}
	}
}
