// Package canvas is the drawing surface handed to LLM-authored rendering
// scripts. Every layout call records the logical element it draws, with a
// bounding box computed from fixed text metrics, so the validator works
// from the script's own placement decisions instead of pixel analysis.
package canvas

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/layout"
)

// Text metrics in normalized figure units. Fixed constants keep element
// extraction deterministic across runs.
const (
	titleCharWidth    = 0.016
	titleHeight       = 0.05
	subtitleCharWidth = 0.010
	subtitleHeight    = 0.03
	labelCharWidth    = 0.010
	labelHeight       = 0.02
	tickCharWidth     = 0.009
	tickHeight        = 0.025
	sourceCharWidth   = 0.008
	sourceHeight      = 0.02
)

// Plot projection insets, keeping data clear of the figure edges.
const (
	plotXLeft   = 0.10
	plotXRight  = 0.92
	plotYPad    = 0.02
	pointRadius = 0.005
)

// Raster dimensions for the PNG artifact.
const (
	rasterWidth  = 800
	rasterHeight = 600
)

// Canvas accumulates layout calls for one chart. Not safe for concurrent
// use; a render attempt owns its canvas.
type Canvas struct {
	spec     *chartspec.ChartSpec
	elements []layout.Element
	title    string
	plotted  bool
}

// New builds a canvas for the given spec.
func New(spec *chartspec.ChartSpec) *Canvas {
	return &Canvas{spec: spec}
}

// Spec returns the chart spec the canvas draws from.
func (c *Canvas) Spec() *chartspec.ChartSpec { return c.spec }

// BrandBar draws the brand strip across the top of the figure. It is
// decoration, not a logical element, so nothing is recorded; the zone
// exists to keep the title out of it.
func (c *Canvas) BrandBar() {}

// Title places the headline with its bottom-left corner at (x, y).
func (c *Canvas) Title(text string, x, y float64) {
	c.title = text
	c.record(layout.ElementTitle, text, "", textBox(text, x, y, titleCharWidth, titleHeight))
}

// Subtitle places the dek line with its bottom-left corner at (x, y).
// It shares the title zone.
func (c *Canvas) Subtitle(text string, x, y float64) {
	c.record(layout.ElementTitle, text, "", textBox(text, x, y, subtitleCharWidth, subtitleHeight))
}

// Plot draws every series in the spec, recording one data point element
// per value at its projected position in the plot zone.
func (c *Canvas) Plot() {
	c.plotted = true
	yLow, yHigh, lo, hi, ok := c.plotProjection()
	if !ok {
		return
	}
	n := c.spec.MaxPoints()

	for _, sr := range c.spec.Series {
		for i, v := range sr.Values {
			cx := pointX(i, n)
			cy := yLow + (v-lo)/(hi-lo)*(yHigh-yLow)
			c.record(layout.ElementDataPoint, "", sr.Name, layout.Box{
				XMin: cx - pointRadius,
				XMax: cx + pointRadius,
				YMin: cy - pointRadius,
				YMax: cy + pointRadius,
			})
		}
	}
}

// PointPosition returns the projected center of the i-th value of the named
// series, exactly where Plot records it. Scripts use this to place series
// labels clear of the data. ok is false for an unknown series or index.
func (c *Canvas) PointPosition(series string, i int) (x, y float64, ok bool) {
	var values []float64
	for _, sr := range c.spec.Series {
		if sr.Name == series {
			values = sr.Values
			break
		}
	}
	if i < 0 || i >= len(values) {
		return 0, 0, false
	}
	yLow, yHigh, lo, hi, ok := c.plotProjection()
	if !ok {
		return 0, 0, false
	}
	cy := yLow + (values[i]-lo)/(hi-lo)*(yHigh-yLow)
	return pointX(i, c.spec.MaxPoints()), cy, true
}

func (c *Canvas) plotProjection() (yLow, yHigh, lo, hi float64, ok bool) {
	plot, okZone := c.spec.ZoneFor(chartspec.ZonePlot)
	if !okZone {
		return 0, 0, 0, 0, false
	}
	lo, hi = c.spec.ValueRange()
	if hi == lo {
		hi = lo + 1
	}
	return plot.YMin + plotYPad, plot.YMax - plotYPad, lo, hi, true
}

// SeriesLabel places an inline series label with its bottom-left corner
// at (x, y). House style prefers inline labels over legend boxes.
func (c *Canvas) SeriesLabel(series, text string, x, y float64) {
	c.record(layout.ElementLabel, text, series, textBox(text, x, y, labelCharWidth, labelHeight))
}

// XAxisLabels places one tick label per point position along the bottom
// band, each centered under its data column at height y.
func (c *Canvas) XAxisLabels(y float64, labels ...string) {
	n := len(labels)
	for i, text := range labels {
		cx := pointX(i, n)
		w := runeWidth(text, tickCharWidth)
		c.record(layout.ElementAxisTick, text, "", layout.Box{
			XMin: cx - w/2,
			XMax: cx + w/2,
			YMin: y,
			YMax: y + tickHeight,
		})
	}
}

// Source places the attribution line with its bottom-left corner at (x, y).
func (c *Canvas) Source(text string, x, y float64) {
	c.record(layout.ElementSource, text, "", textBox(text, x, y, sourceCharWidth, sourceHeight))
}

// Elements returns a copy of everything recorded so far, in call order.
func (c *Canvas) Elements() []layout.Element {
	out := make([]layout.Element, len(c.elements))
	copy(out, c.elements)
	return out
}

func (c *Canvas) record(kind layout.ElementKind, text, series string, box layout.Box) {
	c.elements = append(c.elements, layout.Element{
		Kind:   kind,
		Text:   text,
		Series: series,
		Box:    box,
	})
}

func textBox(text string, x, y, charWidth, height float64) layout.Box {
	return layout.Box{
		XMin: x,
		XMax: x + runeWidth(text, charWidth),
		YMin: y,
		YMax: y + height,
	}
}

func runeWidth(text string, charWidth float64) float64 {
	return float64(utf8.RuneCountInString(text)) * charWidth
}

// pointX projects point index i of n onto the horizontal plot range.
func pointX(i, n int) float64 {
	if n <= 1 {
		return (plotXLeft + plotXRight) / 2
	}
	return plotXLeft + float64(i)/float64(n-1)*(plotXRight-plotXLeft)
}

// WritePNG rasterizes the chart to path. The raster is the published
// artifact; layout QA runs on the recorded elements, not on these pixels.
func (c *Canvas) WritePNG(path string) error {
	if !c.plotted {
		return fmt.Errorf("nothing plotted: rendering instructions never called Plot")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	defer f.Close()

	title := c.title
	if title == "" {
		title = c.spec.Title
	}

	if c.spec.Kind == chartspec.KindBar {
		bars := make([]chart.Value, 0, len(c.spec.Series)*c.spec.MaxPoints())
		for _, sr := range c.spec.Series {
			for i, v := range sr.Values {
				bars = append(bars, chart.Value{Value: v, Label: fmt.Sprintf("%s %d", sr.Name, i+1)})
			}
		}
		graph := chart.BarChart{
			Title:  title,
			Width:  rasterWidth,
			Height: rasterHeight,
			Bars:   bars,
		}
		if err := graph.Render(chart.PNG, f); err != nil {
			return fmt.Errorf("failed to render bar chart: %w", err)
		}
		return nil
	}

	series := make([]chart.Series, 0, len(c.spec.Series))
	for _, sr := range c.spec.Series {
		xs := make([]float64, len(sr.Values))
		for i := range sr.Values {
			xs[i] = float64(i)
		}
		cs := chart.ContinuousSeries{
			Name:    sr.Name,
			XValues: xs,
			YValues: append([]float64(nil), sr.Values...),
		}
		if c.spec.Kind == chartspec.KindScatter {
			cs.Style = chart.Style{StrokeWidth: chart.Disabled, DotWidth: 5}
		}
		series = append(series, cs)
	}

	graph := chart.Chart{
		Title:  title,
		Width:  rasterWidth,
		Height: rasterHeight,
		Series: series,
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		return fmt.Errorf("failed to render %s chart: %w", c.spec.Kind, err)
	}
	return nil
}
