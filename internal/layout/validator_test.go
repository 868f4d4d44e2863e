package layout

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
)

func testSpec(t *testing.T) *chartspec.ChartSpec {
	t.Helper()
	spec, err := chartspec.New("GDP growth", "Annual, %", chartspec.KindLine, []chartspec.Series{
		{Name: "France", Values: []float64{1.1, 1.4, 0.9}},
		{Name: "Germany", Values: []float64{0.3, 0.1, -0.2}},
	})
	require.NoError(t, err)
	return spec
}

func TestCleanLayoutPasses(t *testing.T) {
	v := NewValidator(DefaultThresholds())
	elements := []Element{
		{Kind: ElementTitle, Text: "GDP growth", Box: Box{XMin: 0.05, XMax: 0.60, YMin: 0.86, YMax: 0.93}},
		{Kind: ElementAxisTick, Text: "2023", Box: Box{XMin: 0.10, XMax: 0.16, YMin: 0.06, YMax: 0.11}},
		{Kind: ElementSource, Text: "Source: Eurostat", Box: Box{XMin: 0.05, XMax: 0.30, YMin: 0.01, YMax: 0.03}},
		{Kind: ElementDataPoint, Series: "France", Box: Box{XMin: 0.30, XMax: 0.31, YMin: 0.50, YMax: 0.51}},
		{Kind: ElementLabel, Text: "France", Series: "France", Box: Box{XMin: 0.40, XMax: 0.50, YMin: 0.60, YMax: 0.62}},
	}

	report := v.Validate(testSpec(t), elements)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 5, report.Checked)
}

func TestTitleOverlapsBrandBar(t *testing.T) {
	// Title zone is y:[0.85,0.94]; the element pushes to 0.95.
	v := NewValidator(DefaultThresholds())
	elements := []Element{
		{Kind: ElementTitle, Text: "GDP growth", Box: Box{XMin: 0.10, XMax: 0.60, YMin: 0.86, YMax: 0.95}},
	}

	report := v.Validate(testSpec(t), elements)
	require.False(t, report.Passed)
	require.Len(t, report.Violations, 1)

	got := report.Violations[0]
	assert.Equal(t, RuleZoneOverlap, got.RuleID)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, "title overlaps brand bar", got.Message)
	assert.Equal(t, []int{0}, got.Elements)
}

func TestZoneBoundaryIsHalfOpen(t *testing.T) {
	v := NewValidator(DefaultThresholds())

	t.Run("touching the boundary passes", func(t *testing.T) {
		elements := []Element{
			{Kind: ElementTitle, Box: Box{XMin: 0.1, XMax: 0.6, YMin: 0.85, YMax: 0.94}},
		}
		report := v.Validate(testSpec(t), elements)
		assert.True(t, report.Passed)
		assert.Empty(t, report.Violations)
	})

	t.Run("one step past the boundary fails", func(t *testing.T) {
		elements := []Element{
			{Kind: ElementTitle, Box: Box{XMin: 0.1, XMax: 0.6, YMin: 0.85, YMax: 0.941}},
		}
		report := v.Validate(testSpec(t), elements)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, RuleZoneOverlap, report.Violations[0].RuleID)
	})
}

func TestLabelPairCollision(t *testing.T) {
	v := NewValidator(DefaultThresholds())
	elements := []Element{
		{Kind: ElementLabel, Text: "France", Box: Box{XMin: 0.2, XMax: 0.4, YMin: 0.50, YMax: 0.52}},
		{Kind: ElementLabel, Text: "Germany", Box: Box{XMin: 0.2, XMax: 0.4, YMin: 0.51, YMax: 0.53}},
	}

	report := v.Validate(testSpec(t), elements)
	require.False(t, report.Passed)
	require.Len(t, report.Violations, 1)

	got := report.Violations[0]
	assert.Equal(t, RuleLabelCollision, got.RuleID)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, []int{0, 1}, got.Elements)
}

func TestLabelCollisionWorstPairFirst(t *testing.T) {
	v := NewValidator(DefaultThresholds())
	elements := []Element{
		{Kind: ElementLabel, Text: "a", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.300, YMax: 0.320}},
		{Kind: ElementLabel, Text: "b", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.318, YMax: 0.338}},
		{Kind: ElementLabel, Text: "c", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.500, YMax: 0.520}},
		{Kind: ElementLabel, Text: "d", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.508, YMax: 0.528}},
	}

	report := v.Validate(testSpec(t), elements)
	require.Len(t, report.Violations, 2)

	// c/d centers sit 0.008 apart, a/b 0.018: the tighter pair comes first.
	assert.Equal(t, []int{2, 3}, report.Violations[0].Elements)
	assert.Equal(t, []int{0, 1}, report.Violations[1].Elements)

	// c/d overlap most of their height; a/b only graze.
	assert.Equal(t, SeverityCritical, report.Violations[0].Severity)
	assert.Equal(t, SeverityWarning, report.Violations[1].Severity)
}

func TestLabelDataOffset(t *testing.T) {
	v := NewValidator(DefaultThresholds())

	t.Run("deep overlap is critical", func(t *testing.T) {
		elements := []Element{
			{Kind: ElementLabel, Text: "France", Box: Box{XMin: 0.30, XMax: 0.40, YMin: 0.40, YMax: 0.42}},
			{Kind: ElementDataPoint, Series: "France", Box: Box{XMin: 0.32, XMax: 0.36, YMin: 0.39, YMax: 0.43}},
		}
		report := v.Validate(testSpec(t), elements)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, RuleLabelOffset, report.Violations[0].RuleID)
		assert.Equal(t, SeverityCritical, report.Violations[0].Severity)
		assert.False(t, report.Passed)
	})

	t.Run("near miss is a warning and does not block", func(t *testing.T) {
		elements := []Element{
			{Kind: ElementLabel, Text: "France", Box: Box{XMin: 0.30, XMax: 0.40, YMin: 0.40, YMax: 0.42}},
			{Kind: ElementDataPoint, Series: "France", Box: Box{XMin: 0.403, XMax: 0.410, YMin: 0.40, YMax: 0.42}},
		}
		report := v.Validate(testSpec(t), elements)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, RuleLabelOffset, report.Violations[0].RuleID)
		assert.Equal(t, SeverityWarning, report.Violations[0].Severity)
		assert.True(t, report.Passed, "warnings alone must not fail the report")
	})
}

func TestAxisIntrusion(t *testing.T) {
	v := NewValidator(DefaultThresholds())
	elements := []Element{
		{Kind: ElementLabel, Text: "Germany", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.08, YMax: 0.14}},
	}

	report := v.Validate(testSpec(t), elements)
	require.False(t, report.Passed)

	var rules []string
	for _, viol := range report.Violations {
		rules = append(rules, viol.RuleID)
	}
	// The label both leaves the plot zone and dips into the axis band.
	assert.Equal(t, []string{RuleZoneOverlap, RuleAxisIntrusion}, rules)
	assert.Equal(t, "label intrudes into axis-label zone", report.Violations[1].Message)
}

func TestBoundaryClip(t *testing.T) {
	v := NewValidator(DefaultThresholds())

	t.Run("outside the figure", func(t *testing.T) {
		elements := []Element{
			{Kind: ElementAxisTick, Text: "2025", Box: Box{XMin: 0.97, XMax: 1.02, YMin: 0.06, YMax: 0.11}},
		}
		report := v.Validate(testSpec(t), elements)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, RuleBoundaryClip, report.Violations[0].RuleID)
		assert.Equal(t, SeverityCritical, report.Violations[0].Severity)
	})

	t.Run("inside the figure but within the edge margin", func(t *testing.T) {
		elements := []Element{
			{Kind: ElementTitle, Text: "GDP", Box: Box{XMin: 0.001, XMax: 0.2, YMin: 0.86, YMax: 0.93}},
		}
		report := v.Validate(testSpec(t), elements)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, RuleBoundaryClip, report.Violations[0].RuleID)
	})
}

func TestValidateIsPure(t *testing.T) {
	v := NewValidator(DefaultThresholds())
	spec := testSpec(t)
	elements := []Element{
		{Kind: ElementTitle, Box: Box{XMin: 0.1, XMax: 0.6, YMin: 0.86, YMax: 0.95}},
		{Kind: ElementLabel, Text: "a", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.50, YMax: 0.52}},
		{Kind: ElementLabel, Text: "b", Box: Box{XMin: 0.2, XMax: 0.3, YMin: 0.51, YMax: 0.53}},
		{Kind: ElementDataPoint, Box: Box{XMin: 0.25, XMax: 0.26, YMin: 0.505, YMax: 0.515}},
	}

	first := v.Validate(spec, elements)
	second := v.Validate(spec, elements)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("reports differ across runs (-first +second):\n%s", diff)
	}

	fb, err := json.Marshal(first)
	require.NoError(t, err)
	sb, err := json.Marshal(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(fb, sb), "serialized reports must be byte-identical")
}

func TestNoElementsNoViolations(t *testing.T) {
	v := NewValidator(DefaultThresholds())
	report := v.Validate(testSpec(t), nil)
	assert.True(t, report.Passed)
	assert.Zero(t, report.Checked)
	assert.Empty(t, report.Violations)
}
