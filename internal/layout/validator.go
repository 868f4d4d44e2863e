package layout

import (
	"fmt"
	"math"
	"sort"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
)

// eps absorbs float64 noise at zone and figure boundaries. An element that
// exactly touches a boundary is inside it; strictly beyond is not.
const eps = 1e-9

// Thresholds holds the tunable spacing parameters. The rule set itself is
// fixed; only how strict the spacing rules are is configurable.
type Thresholds struct {
	// LabelDataMinOffset is the minimum clearance between a label box and
	// any data point box, in normalized units.
	LabelDataMinOffset float64 `yaml:"label_data_min_offset" json:"label_data_min_offset"`

	// LabelMinSeparation is the minimum vertical center distance between
	// two label boxes.
	LabelMinSeparation float64 `yaml:"label_min_separation" json:"label_min_separation"`

	// CriticalOverlapRatio escalates an R2/R4 overlap from warning to
	// critical once the intersection covers this fraction of the smaller
	// box.
	CriticalOverlapRatio float64 `yaml:"critical_overlap_ratio" json:"critical_overlap_ratio"`

	// EdgeSafetyMargin keeps elements clear of the figure edge.
	EdgeSafetyMargin float64 `yaml:"edge_safety_margin" json:"edge_safety_margin"`
}

// DefaultThresholds returns conservative print-safe spacing parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LabelDataMinOffset:   0.008,
		LabelMinSeparation:   0.02,
		CriticalOverlapRatio: 0.25,
		EdgeSafetyMargin:     0.005,
	}
}

// Validator applies the layout rule set R1 through R5.
type Validator struct {
	thresholds Thresholds
}

// NewValidator builds a validator with the given thresholds. Zero-valued
// thresholds are taken literally, so most callers want DefaultThresholds.
func NewValidator(th Thresholds) *Validator {
	return &Validator{thresholds: th}
}

// Thresholds returns the spacing parameters this validator enforces.
func (v *Validator) Thresholds() Thresholds {
	return v.thresholds
}

// Validate checks every element against the zone model and spacing rules
// and returns the full violation report. It is pure: no state is kept
// between calls and the same inputs always produce the same report, with
// violations ordered R1 through R5 and worst-first within R4.
func (v *Validator) Validate(spec *chartspec.ChartSpec, elements []Element) Report {
	var violations []Violation
	violations = append(violations, v.checkZoneContainment(spec, elements)...)
	violations = append(violations, v.checkLabelDataOffset(elements)...)
	violations = append(violations, v.checkAxisIntrusion(spec, elements)...)
	violations = append(violations, v.checkLabelCollision(elements)...)
	violations = append(violations, v.checkBoundaryClip(elements)...)

	report := Report{
		Violations: violations,
		Checked:    len(elements),
	}
	report.Passed = report.CriticalCount() == 0
	return report
}

// ZoneForKind maps an element kind to the zone that must contain it.
func ZoneForKind(kind ElementKind) string {
	switch kind {
	case ElementTitle:
		return chartspec.ZoneTitle
	case ElementAxisTick:
		return chartspec.ZoneAxisLabels
	case ElementSource:
		return chartspec.ZoneSource
	default:
		// Labels and data points live in the plot area.
		return chartspec.ZonePlot
	}
}

// checkZoneContainment is R1: every element must lie entirely within the
// zone matching its kind. Touching the zone boundary is not a breach.
func (v *Validator) checkZoneContainment(spec *chartspec.ChartSpec, elements []Element) []Violation {
	var out []Violation
	for i, el := range elements {
		zoneName := ZoneForKind(el.Kind)
		zone, ok := spec.ZoneFor(zoneName)
		if !ok {
			continue
		}
		above := el.Box.YMax > zone.YMax+eps
		below := el.Box.YMin < zone.YMin-eps
		if !above && !below {
			continue
		}
		var msg string
		if el.Kind == ElementTitle && above {
			// House phrasing: the band above the title zone is the brand bar.
			msg = "title overlaps brand bar"
		} else {
			msg = fmt.Sprintf("%s element extends outside %s zone (y:[%.3f,%.3f], zone y:[%.3f,%.3f])",
				el.Kind, zoneName, el.Box.YMin, el.Box.YMax, zone.YMin, zone.YMax)
		}
		out = append(out, Violation{
			RuleID:   RuleZoneOverlap,
			Severity: SeverityCritical,
			Message:  msg,
			Elements: []int{i},
		})
	}
	return out
}

// checkLabelDataOffset is R2: a label must not intersect any data point
// box, and must keep a minimum clearance from it.
func (v *Validator) checkLabelDataOffset(elements []Element) []Violation {
	var out []Violation
	for i, label := range elements {
		if label.Kind != ElementLabel {
			continue
		}
		for j, dp := range elements {
			if dp.Kind != ElementDataPoint {
				continue
			}
			if inter, ok := label.Box.Intersection(dp.Box); ok {
				ratio := inter.Area() / math.Min(label.Box.Area(), dp.Box.Area())
				sev := SeverityWarning
				if ratio > v.thresholds.CriticalOverlapRatio {
					sev = SeverityCritical
				}
				out = append(out, Violation{
					RuleID:   RuleLabelOffset,
					Severity: sev,
					Message:  fmt.Sprintf("label %q collides with data (overlap %.0f%%)", label.Text, ratio*100),
					Elements: []int{i, j},
				})
				continue
			}
			if gap := label.Box.Gap(dp.Box); gap < v.thresholds.LabelDataMinOffset-eps {
				out = append(out, Violation{
					RuleID:   RuleLabelOffset,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("label %q sits %.3f from data, minimum offset is %.3f", label.Text, gap, v.thresholds.LabelDataMinOffset),
					Elements: []int{i, j},
				})
			}
		}
	}
	return out
}

// checkAxisIntrusion is R3: only axis ticks may occupy the axis-label band.
func (v *Validator) checkAxisIntrusion(spec *chartspec.ChartSpec, elements []Element) []Violation {
	zone, ok := spec.ZoneFor(chartspec.ZoneAxisLabels)
	if !ok {
		return nil
	}
	var out []Violation
	for i, el := range elements {
		if el.Kind != ElementLabel {
			continue
		}
		if el.Box.YMin < zone.YMax-eps && el.Box.YMax > zone.YMin+eps {
			out = append(out, Violation{
				RuleID:   RuleAxisIntrusion,
				Severity: SeverityCritical,
				Message:  "label intrudes into axis-label zone",
				Elements: []int{i},
			})
		}
	}
	return out
}

// labelPair is one R4 candidate, kept with its separation for worst-first
// ordering.
type labelPair struct {
	i, j        int
	sep         float64
	overlapping bool
	ratio       float64
}

// checkLabelCollision is R4: pairwise label overlap or insufficient
// vertical separation. The worst offender (smallest separation) surfaces
// first in the report.
func (v *Validator) checkLabelCollision(elements []Element) []Violation {
	var labels []int
	for i, el := range elements {
		if el.Kind == ElementLabel {
			labels = append(labels, i)
		}
	}

	var pairs []labelPair
	for a := 0; a < len(labels); a++ {
		for b := a + 1; b < len(labels); b++ {
			i, j := labels[a], labels[b]
			boxA, boxB := elements[i].Box, elements[j].Box
			sep := math.Abs(boxA.CenterY() - boxB.CenterY())
			inter, overlapping := boxA.Intersection(boxB)
			if !overlapping && sep >= v.thresholds.LabelMinSeparation-eps {
				continue
			}
			p := labelPair{i: i, j: j, sep: sep, overlapping: overlapping}
			if overlapping {
				p.ratio = inter.Area() / math.Min(boxA.Area(), boxB.Area())
			}
			pairs = append(pairs, p)
		}
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].sep != pairs[b].sep {
			return pairs[a].sep < pairs[b].sep
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	out := make([]Violation, 0, len(pairs))
	for _, p := range pairs {
		a, b := elements[p.i], elements[p.j]
		sev := SeverityWarning
		var msg string
		if p.overlapping {
			if p.ratio > v.thresholds.CriticalOverlapRatio {
				sev = SeverityCritical
			}
			msg = fmt.Sprintf("labels %q and %q overlap (separation %.3f)", a.Text, b.Text, p.sep)
		} else {
			msg = fmt.Sprintf("labels %q and %q separated by %.3f, minimum is %.3f", a.Text, b.Text, p.sep, v.thresholds.LabelMinSeparation)
		}
		out = append(out, Violation{
			RuleID:   RuleLabelCollision,
			Severity: sev,
			Message:  msg,
			Elements: []int{p.i, p.j},
		})
	}
	return out
}

// checkBoundaryClip is R5: elements must stay inside the figure and clear
// of the configured edge margin.
func (v *Validator) checkBoundaryClip(elements []Element) []Violation {
	margin := v.thresholds.EdgeSafetyMargin
	var out []Violation
	for i, el := range elements {
		b := el.Box
		outside := b.XMin < -eps || b.XMax > 1+eps || b.YMin < -eps || b.YMax > 1+eps
		clipped := b.XMin < margin-eps || b.XMax > 1-margin+eps || b.YMin < margin-eps || b.YMax > 1-margin+eps
		if !outside && !clipped {
			continue
		}
		var msg string
		if outside {
			msg = fmt.Sprintf("%s element out of figure bounds (x:[%.3f,%.3f], y:[%.3f,%.3f])", el.Kind, b.XMin, b.XMax, b.YMin, b.YMax)
		} else {
			msg = fmt.Sprintf("%s element clipped at figure edge (margin %.3f)", el.Kind, margin)
		}
		out = append(out, Violation{
			RuleID:   RuleBoundaryClip,
			Severity: SeverityCritical,
			Message:  msg,
			Elements: []int{i},
		})
	}
	return out
}
