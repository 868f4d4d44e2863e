// renderbox executes one LLM-authored rendering script in isolation. The
// parent process invokes it per attempt, hard-kills it on timeout, and
// treats any non-zero exit as a render failure. Stderr carries the error
// text; the artifact and element records land at the paths given.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oviney/economist-agents-sub001/internal/canvas"
	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/sandbox"
)

var (
	specPath     string
	scriptPath   string
	outPath      string
	elementsPath string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "renderbox",
	Short:         "Render one chart from a spec and a rendering script",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&specPath, "spec", "", "path to the chart spec JSON")
	rootCmd.Flags().StringVar(&scriptPath, "script", "", "path to the rendering script")
	rootCmd.Flags().StringVar(&outPath, "out", "", "path for the PNG artifact")
	rootCmd.Flags().StringVar(&elementsPath, "elements", "", "path for the element records JSON")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 25*time.Second, "script evaluation deadline")
	for _, name := range []string{"spec", "script", "out", "elements"} {
		_ = rootCmd.MarkFlagRequired(name)
	}
}

func run() error {
	specData, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("failed to read spec: %w", err)
	}
	var spec chartspec.ChartSpec
	if err := json.Unmarshal(specData, &spec); err != nil {
		return fmt.Errorf("failed to parse spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("spec rejected: %w", err)
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c := canvas.New(&spec)
	if err := sandbox.NewEvaluator().Evaluate(ctx, string(script), c); err != nil {
		return err
	}

	elements, err := json.Marshal(c.Elements())
	if err != nil {
		return fmt.Errorf("failed to encode elements: %w", err)
	}
	if err := os.WriteFile(elementsPath, elements, 0644); err != nil {
		return fmt.Errorf("failed to write elements: %w", err)
	}

	if err := c.WritePNG(outPath); err != nil {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "render failed:", err)
		os.Exit(1)
	}
}
