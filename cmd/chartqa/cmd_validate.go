package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
)

var (
	validateSpecPath     string
	validateElementsPath string
	validateJSON         bool
)

// validateCmd checks rendered elements against the layout rules
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check rendered elements against the layout rules",
	Long: `Runs the layout validator over a chart spec and a rendered element
list, both JSON, without touching any LLM or renderer. The element file
is what the render runner emits alongside each artifact.

Exits non-zero when critical violations are found, so the command slots
into scripts and CI.

Example:
  chartqa validate --spec gdp_spec.json --elements gdp_attempt01_elements.json`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateSpecPath, "spec", "", "Chart spec JSON file (required)")
	validateCmd.Flags().StringVar(&validateElementsPath, "elements", "", "Rendered elements JSON file (required)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Emit the full report as JSON")
	validateCmd.MarkFlagRequired("spec")
	validateCmd.MarkFlagRequired("elements")
}

func runValidate(cmd *cobra.Command, args []string) error {
	specData, err := os.ReadFile(validateSpecPath)
	if err != nil {
		return fmt.Errorf("reading spec: %w", err)
	}
	var spec chartspec.ChartSpec
	if err := json.Unmarshal(specData, &spec); err != nil {
		return fmt.Errorf("parsing spec: %w", err)
	}
	if len(spec.Zones) == 0 {
		spec.Zones = chartspec.DefaultZones()
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	elemData, err := os.ReadFile(validateElementsPath)
	if err != nil {
		return fmt.Errorf("reading elements: %w", err)
	}
	var elements []layout.Element
	if err := json.Unmarshal(elemData, &elements); err != nil {
		return fmt.Errorf("parsing elements: %w", err)
	}

	report := layout.NewValidator(thresholds()).Validate(&spec, elements)

	if validateJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		if report.Passed {
			fmt.Printf("PASSED: %d elements, %d warnings\n", report.Checked, report.WarningCount())
		} else {
			fmt.Printf("FAILED: %d elements, %d critical, %d warnings\n",
				report.Checked, report.CriticalCount(), report.WarningCount())
		}
		for _, v := range report.Violations {
			fmt.Printf("  %s\n", v.String())
		}
	}

	if !report.Passed {
		return fmt.Errorf("layout rejected: %d critical violations", report.CriticalCount())
	}
	return nil
}
