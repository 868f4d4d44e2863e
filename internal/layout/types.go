// Package layout checks the geometry of a rendered chart's logical elements
// against the spec's zone model and reports structured violations. The
// validator is a pure function over (spec, elements) so the regeneration
// loop can rely on deterministic feedback.
package layout

import (
	"fmt"
	"math"
)

// ElementKind identifies a logical sub-part of a rendered chart.
type ElementKind string

const (
	ElementTitle     ElementKind = "title"
	ElementLabel     ElementKind = "label"
	ElementDataPoint ElementKind = "data_point"
	ElementAxisTick  ElementKind = "axis_tick"
	ElementSource    ElementKind = "source_line"
)

// Box is an axis-aligned bounding box in normalized [0,1] figure space,
// y increasing upward.
type Box struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Width returns the horizontal extent.
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height returns the vertical extent.
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Area returns width times height.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// CenterY returns the vertical center.
func (b Box) CenterY() float64 { return (b.YMin + b.YMax) / 2 }

// Intersection returns the overlap of two boxes. Boxes that merely touch
// do not intersect.
func (b Box) Intersection(o Box) (Box, bool) {
	in := Box{
		XMin: math.Max(b.XMin, o.XMin),
		XMax: math.Min(b.XMax, o.XMax),
		YMin: math.Max(b.YMin, o.YMin),
		YMax: math.Min(b.YMax, o.YMax),
	}
	if in.XMax-in.XMin <= eps || in.YMax-in.YMin <= eps {
		return Box{}, false
	}
	return in, true
}

// Gap returns the shortest distance between two boxes, zero when they
// touch or intersect.
func (b Box) Gap(o Box) float64 {
	dx := math.Max(0, math.Max(o.XMin-b.XMax, b.XMin-o.XMax))
	dy := math.Max(0, math.Max(o.YMin-b.YMax, b.YMin-o.YMax))
	return math.Hypot(dx, dy)
}

// Element is one logical part of a rendered chart, extracted from the
// rendering instructions' layout calls.
type Element struct {
	Kind   ElementKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Series string      `json:"series,omitempty"`
	Box    Box         `json:"bounding_box"`
}

// Severity classifies a violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Stable rule identifiers. Metrics aggregation keys on these across
// versions, so they never change meaning.
const (
	RuleZoneOverlap    = "R1"
	RuleLabelOffset    = "R2"
	RuleAxisIntrusion  = "R3"
	RuleLabelCollision = "R4"
	RuleBoundaryClip   = "R5"
)

// Violation is one detected breach of a zone or spacing invariant.
// Elements holds indices into the validated element slice.
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Elements []int    `json:"offending_elements"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s %s] %s", v.RuleID, v.Severity, v.Message)
}

// Report is the validator's verdict on one rendered attempt. Passed is
// true iff no critical violations exist; warnings are recorded but do not
// block acceptance.
type Report struct {
	Violations []Violation `json:"violations"`
	Passed     bool        `json:"passed"`
	Checked    int         `json:"checked"`
}

// CriticalCount returns the number of critical violations.
func (r Report) CriticalCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning violations.
func (r Report) WarningCount() int {
	return len(r.Violations) - r.CriticalCount()
}
