package regen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oviney/economist-agents-sub001/internal/layout"
)

func TestBuildPromptFirstAttempt(t *testing.T) {
	req := Request{
		ID:         "gdp",
		Spec:       lineSpec(t),
		SourceNote: "Source: Eurostat",
		DataNotes:  "Values are seasonally adjusted.",
	}

	prompt := BuildPrompt(req, layout.DefaultThresholds(), "", 1)

	assert.Contains(t, prompt, `"GDP growth"`, "spec travels as JSON")
	assert.Contains(t, prompt, "## Canvas API")
	assert.Contains(t, prompt, "func Draw(c *canvas.Canvas) error")
	assert.Contains(t, prompt, "PointPosition")

	// Zone geometry, top-to-bottom, with concrete bands.
	assert.Contains(t, prompt, "brand_bar")
	assert.Contains(t, prompt, "y:[0.96, 1.00]")
	assert.Contains(t, prompt, "y:[0.13, 0.84]")

	// Threshold values the validator will enforce.
	assert.Contains(t, prompt, "0.008")
	assert.Contains(t, prompt, "0.020")
	assert.Contains(t, prompt, "0.005")

	assert.Contains(t, prompt, `"Source: Eurostat"`)
	assert.Contains(t, prompt, "## Notes")
	assert.Contains(t, prompt, "seasonally adjusted")
	assert.NotContains(t, prompt, "## Attempt")
}

func TestBuildPromptRetryCarriesFeedback(t *testing.T) {
	req := Request{ID: "gdp", Spec: lineSpec(t)}

	prompt := BuildPrompt(req, layout.DefaultThresholds(), "move the title down", 2)

	assert.Contains(t, prompt, "## Attempt 1 failed")
	assert.Contains(t, prompt, "move the title down")
}

func TestViolationFeedbackCapsListing(t *testing.T) {
	var report layout.Report
	for i := 0; i < 6; i++ {
		report.Violations = append(report.Violations, layout.Violation{
			RuleID:   layout.RuleLabelCollision,
			Severity: layout.SeverityCritical,
			Message:  fmt.Sprintf("labels %d and %d collide", i, i+1),
		})
	}
	report.Violations = append(report.Violations,
		layout.Violation{RuleID: layout.RuleLabelOffset, Severity: layout.SeverityWarning, Message: "label crowds data"},
		layout.Violation{RuleID: layout.RuleLabelOffset, Severity: layout.SeverityWarning, Message: "label crowds data"},
	)

	text := violationFeedback(lineSpec(t), report, nil)

	assert.Contains(t, text, "labels 0 and 1 collide")
	assert.Contains(t, text, "labels 3 and 4 collide")
	assert.NotContains(t, text, "labels 4 and 5 collide", "listing caps at four")
	assert.Contains(t, text, "plus 2 more critical violations")
	assert.Contains(t, text, "2 warnings")
	assert.Contains(t, text, "Regenerate the entire Draw function")
}

func TestZoneHintNamesTheBoundary(t *testing.T) {
	spec := lineSpec(t)

	elements := []layout.Element{
		{Kind: layout.ElementTitle, Text: "t", Box: layout.Box{XMin: 0.05, XMax: 0.30, YMin: 0.93, YMax: 0.98}},
		{Kind: layout.ElementSource, Text: "s", Box: layout.Box{XMin: 0.05, XMax: 0.30, YMin: -0.01, YMax: 0.01}},
	}

	above := zoneHint(spec, layout.Violation{
		RuleID:   layout.RuleZoneOverlap,
		Severity: layout.SeverityCritical,
		Elements: []int{0},
	}, elements)
	assert.Equal(t, "its top is at y=0.980, keep it at or below y=0.94", above)

	below := zoneHint(spec, layout.Violation{
		RuleID:   layout.RuleZoneOverlap,
		Severity: layout.SeverityCritical,
		Elements: []int{1},
	}, elements)
	assert.Equal(t, "its bottom is at y=-0.010, keep it at or above y=0.00", below)
}

func TestZoneHintOnlyForZoneViolations(t *testing.T) {
	spec := lineSpec(t)
	elements := []layout.Element{
		{Kind: layout.ElementLabel, Box: layout.Box{XMin: 0.1, XMax: 0.2, YMin: 0.5, YMax: 0.52}},
	}

	hint := zoneHint(spec, layout.Violation{
		RuleID:   layout.RuleLabelCollision,
		Severity: layout.SeverityCritical,
		Elements: []int{0},
	}, elements)
	assert.Empty(t, hint)

	// Out-of-range element indices never panic.
	hint = zoneHint(spec, layout.Violation{
		RuleID:   layout.RuleZoneOverlap,
		Severity: layout.SeverityCritical,
		Elements: []int{7},
	}, elements)
	assert.Empty(t, hint)
}

func TestRenderFailureFeedbackNamesAllowedImports(t *testing.T) {
	text := renderFailureFeedback(`script evaluation failed: 1:1: import "os" not allowed`)
	require.Contains(t, text, "did not render")
	assert.Contains(t, text, `import "os" not allowed`)
	assert.Contains(t, text, "chartqa/canvas")
}
