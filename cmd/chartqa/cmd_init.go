package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oviney/economist-agents-sub001/internal/config"
)

var initForce bool

// initCmd scaffolds a chartqa workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize chartqa in the current workspace",
	Long: `Creates the .chartqa/ directory with a default config.yaml and writes
an example chart request under requests/.

The generated config documents every knob with its default value; the
example request renders offline, so

  chartqa generate requests/example.yaml --offline

works immediately after init.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.yaml")
}

const exampleRequest = `# Example chart request. Series values can be inline (as here) or pulled
# from an .xlsx/.csv file via a "data:" block; see the project docs.
title: GDP growth
subtitle: Annual change, %
kind: line
unit: "%"
source: Eurostat
series:
  - name: France
    values: [1.2, 1.8, 0.9, 1.4]
  - name: Germany
    values: [0.8, 1.1, 1.5, 1.0]
`

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := config.DefaultPath(workspace)
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		fmt.Printf("config already exists at %s (use --force to overwrite)\n", cfgPath)
	} else {
		if err := config.DefaultConfig().Save(cfgPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgPath)
	}

	reqPath := filepath.Join(workspace, "requests", "example.yaml")
	if _, err := os.Stat(reqPath); err == nil {
		fmt.Printf("example request already exists at %s\n", reqPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(reqPath), 0755); err != nil {
		return fmt.Errorf("failed to create requests directory: %w", err)
	}
	if err := os.WriteFile(reqPath, []byte(exampleRequest), 0644); err != nil {
		return fmt.Errorf("failed to write example request: %w", err)
	}
	fmt.Printf("wrote %s\n", reqPath)
	fmt.Println("\nTry: chartqa generate requests/example.yaml --offline")
	return nil
}
