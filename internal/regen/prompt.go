package regen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
)

// systemPrompt frames the collaborator's job: code out, prose never.
const systemPrompt = `You write Go rendering scripts for print data charts. Respond with only Go code: an optional import block and a Draw function. No commentary. The code runs in a restricted interpreter where only fmt, math, sort, strconv, strings, and chartqa/canvas may be imported.`

// canvasContract documents the drawing API the script is allowed to call.
// Coordinates are normalized figure space: x and y in [0,1], y increasing
// upward, (x, y) naming an element's bottom-left corner.
const canvasContract = `The script must define:

	func Draw(c *canvas.Canvas) error

Canvas API:

	c.Spec()                                   // the chart spec; fields Title, Subtitle, Kind, Series (each Series has Name, Values, Unit), plus MaxPoints() and ValueRange()
	c.BrandBar()                               // the decorative top strip
	c.Title(text string, x, y float64)
	c.Subtitle(text string, x, y float64)
	c.Plot()                                   // draws every series from the spec into the plot zone; call it exactly once
	c.PointPosition(series string, i int) (x, y float64, ok bool)
	                                           // projected center of the i-th value, exactly where Plot places it
	c.SeriesLabel(series, text string, x, y float64)
	                                           // inline series label; house style prefers these over legend boxes
	c.XAxisLabels(y float64, labels ...string) // one tick label per point position, centered under its column
	c.Source(text string, x, y float64)

Return a non-nil error only when the spec cannot be drawn at all.`

// BuildPrompt assembles the user prompt for one generation attempt: the
// spec, the drawing API, the zone geometry and spacing rules the validator
// will enforce, and on retries the compressed failure feedback.
func BuildPrompt(req Request, th layout.Thresholds, feedback string, attemptNo int) string {
	var b strings.Builder
	b.WriteString("Write the Go rendering script for this chart.\n\n")

	b.WriteString("## Chart spec\n\n")
	if data, err := json.MarshalIndent(req.Spec, "", "  "); err == nil {
		b.Write(data)
		b.WriteString("\n")
	}

	b.WriteString("\n## Canvas API\n\n")
	b.WriteString(canvasContract)
	b.WriteString("\n")

	b.WriteString("\n## Layout constraints\n\n")
	writeZoneTable(&b, req.Spec)
	writeRules(&b, th)

	if req.SourceNote != "" {
		fmt.Fprintf(&b, "\nDraw the source line %q inside the source zone.\n", req.SourceNote)
	}
	if req.DataNotes != "" {
		fmt.Fprintf(&b, "\n## Notes\n\n%s\n", req.DataNotes)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\n## Attempt %d failed\n\n%s\n", attemptNo-1, feedback)
	}
	return b.String()
}

func writeZoneTable(b *strings.Builder, spec *chartspec.ChartSpec) {
	b.WriteString("Zones partition the figure vertically; every element must sit fully inside the zone for its kind:\n\n")
	for _, name := range spec.Zones.OrderedNames() {
		z := spec.Zones[name]
		fmt.Fprintf(b, "\t%-12s y:[%.2f, %.2f]\n", name, z.YMin, z.YMax)
	}
}

func writeRules(b *strings.Builder, th layout.Thresholds) {
	b.WriteString("\nThe rendered layout is rejected unless:\n")
	b.WriteString("- the title and subtitle sit inside the title zone, below the brand bar\n")
	fmt.Fprintf(b, "- every series label keeps at least %.3f clearance from every data point (use PointPosition to find the data)\n", th.LabelDataMinOffset)
	b.WriteString("- no series label enters the axis-label band\n")
	fmt.Fprintf(b, "- series label centers sit at least %.3f apart vertically\n", th.LabelMinSeparation)
	fmt.Fprintf(b, "- nothing comes within %.3f of the figure edge\n", th.EdgeSafetyMargin)
}

// violationFeedback compresses a failed report into corrective prompt
// text: the critical violations with the concrete boundary each one broke,
// capped so a pathological report cannot flood the prompt.
func violationFeedback(spec *chartspec.ChartSpec, report layout.Report, elements []layout.Element) string {
	const maxListed = 4

	var b strings.Builder
	b.WriteString("The rendered layout failed validation:\n")

	listed := 0
	for _, v := range report.Violations {
		if v.Severity != layout.SeverityCritical {
			continue
		}
		if listed == maxListed {
			break
		}
		b.WriteString("- ")
		b.WriteString(v.Message)
		if hint := zoneHint(spec, v, elements); hint != "" {
			b.WriteString("; ")
			b.WriteString(hint)
		}
		b.WriteString("\n")
		listed++
	}
	if extra := report.CriticalCount() - listed; extra > 0 {
		fmt.Fprintf(&b, "- plus %d more critical violations\n", extra)
	}
	if w := report.WarningCount(); w > 0 {
		fmt.Fprintf(&b, "There were also %d warnings.\n", w)
	}
	b.WriteString("Regenerate the entire Draw function with corrected coordinates.")
	return b.String()
}

// zoneHint states the boundary an R1 violation crossed, so the retry
// prompt carries the exact coordinate to respect.
func zoneHint(spec *chartspec.ChartSpec, v layout.Violation, elements []layout.Element) string {
	if v.RuleID != layout.RuleZoneOverlap || len(v.Elements) == 0 {
		return ""
	}
	idx := v.Elements[0]
	if idx < 0 || idx >= len(elements) {
		return ""
	}
	el := elements[idx]
	zone, ok := spec.ZoneFor(layout.ZoneForKind(el.Kind))
	if !ok {
		return ""
	}
	if el.Box.YMax > zone.YMax {
		return fmt.Sprintf("its top is at y=%.3f, keep it at or below y=%.2f", el.Box.YMax, zone.YMax)
	}
	return fmt.Sprintf("its bottom is at y=%.3f, keep it at or above y=%.2f", el.Box.YMin, zone.YMin)
}

// renderFailureFeedback turns a failed render into retry guidance.
func renderFailureFeedback(renderError string) string {
	return fmt.Sprintf("The script did not render:\n\n%s\n\nWrite the complete Draw function again, fixing the error. Remember the interpreter only allows fmt, math, sort, strconv, strings, and chartqa/canvas imports.", renderError)
}
