// Package chartspec defines the validated, immutable description of a chart:
// the series to draw, the chart kind, and the zone geometry that partitions
// normalized figure space into horizontal bands. Every render and validation
// pass downstream works from a spec constructed here.
package chartspec

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ChartKind selects the drawing style and its readability limits.
type ChartKind string

const (
	KindLine    ChartKind = "line"
	KindBar     ChartKind = "bar"
	KindScatter ChartKind = "scatter"
)

// Canonical zone names, top of the figure to the bottom.
const (
	ZoneBrandBar   = "brand_bar"
	ZoneTitle      = "title"
	ZonePlot       = "plot"
	ZoneAxisLabels = "axis_labels"
	ZoneSource     = "source"
)

// MinZoneGap is the smallest allowed vertical gap between adjacent zones,
// in normalized figure units.
const MinZoneGap = 0.01

// MinPointsPerSeries rejects charts too sparse to be worth drawing.
const MinPointsPerSeries = 3

// geomEps absorbs float64 noise when comparing zone boundaries.
const geomEps = 1e-9

// Series is one named sequence of values to plot.
type Series struct {
	Name   string    `json:"name" yaml:"name"`
	Values []float64 `json:"values" yaml:"values"`
	Unit   string    `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Zone is a horizontal band of figure space in normalized y-coordinates,
// y increasing upward.
type Zone struct {
	YMin float64 `json:"y_min" yaml:"y_min"`
	YMax float64 `json:"y_max" yaml:"y_max"`
}

// Height returns the vertical extent of the zone.
func (z Zone) Height() float64 { return z.YMax - z.YMin }

// ZoneGeometry maps zone names to their bands.
type ZoneGeometry map[string]Zone

// ChartSpec is the contract for what must be drawn. Construct it with New
// or NewWithZones; treat it as immutable afterward.
type ChartSpec struct {
	Title    string       `json:"title"`
	Subtitle string       `json:"subtitle,omitempty"`
	Series   []Series     `json:"series"`
	Kind     ChartKind    `json:"chart_kind"`
	Zones    ZoneGeometry `json:"zone_geometry"`
}

// SpecError reports a chart spec that failed validation. A spec carrying
// one of these never reaches the LLM or the render backend.
type SpecError struct {
	Field  string
	Reason string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid chart spec: %s: %s", e.Field, e.Reason)
}

func specErr(field, format string, args ...interface{}) *SpecError {
	return &SpecError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DefaultZones returns the house zone geometry: brand bar strip on top,
// then title, plot area, axis-label band, and source line.
func DefaultZones() ZoneGeometry {
	return ZoneGeometry{
		ZoneBrandBar:   {YMin: 0.96, YMax: 1.00},
		ZoneTitle:      {YMin: 0.85, YMax: 0.94},
		ZonePlot:       {YMin: 0.13, YMax: 0.84},
		ZoneAxisLabels: {YMin: 0.05, YMax: 0.12},
		ZoneSource:     {YMin: 0.00, YMax: 0.04},
	}
}

// MaxSeries returns the series-count limit for a chart kind, or 0 for an
// unknown kind. More series than this becomes unreadable in print.
func MaxSeries(kind ChartKind) int {
	switch kind {
	case KindLine, KindScatter:
		return 3
	case KindBar:
		return 4
	default:
		return 0
	}
}

// New builds a validated spec using the default zone geometry.
func New(title, subtitle string, kind ChartKind, series []Series) (*ChartSpec, error) {
	return NewWithZones(title, subtitle, kind, series, DefaultZones())
}

// NewWithZones builds a validated spec with caller-supplied zone geometry.
// Inputs are copied, so later mutation of the arguments does not affect the
// returned spec.
func NewWithZones(title, subtitle string, kind ChartKind, series []Series, zones ZoneGeometry) (*ChartSpec, error) {
	spec := &ChartSpec{
		Title:    title,
		Subtitle: subtitle,
		Kind:     kind,
		Series:   copySeries(series),
		Zones:    zones.clone(),
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks the spec against the construction invariants. It returns
// a *SpecError for the first failure found, nil otherwise. Specs decoded
// from JSON should be re-validated before use.
func (s *ChartSpec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return specErr("title", "must not be empty")
	}

	max := MaxSeries(s.Kind)
	if max == 0 {
		return specErr("chart_kind", "unknown kind %q", string(s.Kind))
	}
	if len(s.Series) == 0 {
		return specErr("series", "at least one series is required")
	}
	if len(s.Series) > max {
		return specErr("series", "%s charts allow at most %d series, got %d", s.Kind, max, len(s.Series))
	}

	seen := make(map[string]bool, len(s.Series))
	for _, sr := range s.Series {
		name := strings.TrimSpace(sr.Name)
		if name == "" {
			return specErr("series", "series name must not be empty")
		}
		if seen[name] {
			return specErr("series", "duplicate series name %q", name)
		}
		seen[name] = true
		if len(sr.Values) < MinPointsPerSeries {
			return specErr("series", "series %q has %d points, need at least %d", name, len(sr.Values), MinPointsPerSeries)
		}
		for i, v := range sr.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return specErr("series", "series %q has a non-finite value at index %d", name, i)
			}
		}
	}

	return s.Zones.validate()
}

// ZoneFor returns the named zone and whether it is declared.
func (s *ChartSpec) ZoneFor(name string) (Zone, bool) {
	z, ok := s.Zones[name]
	return z, ok
}

// ValueRange returns the minimum and maximum value across all series.
func (s *ChartSpec) ValueRange() (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, sr := range s.Series {
		for _, v := range sr.Values {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}

// MaxPoints returns the longest series length.
func (s *ChartSpec) MaxPoints() int {
	n := 0
	for _, sr := range s.Series {
		if len(sr.Values) > n {
			n = len(sr.Values)
		}
	}
	return n
}

// Clone returns a deep copy. Useful for callers that need to derive a
// variant spec without touching the original.
func (s *ChartSpec) Clone() *ChartSpec {
	return &ChartSpec{
		Title:    s.Title,
		Subtitle: s.Subtitle,
		Kind:     s.Kind,
		Series:   copySeries(s.Series),
		Zones:    s.Zones.clone(),
	}
}

func copySeries(in []Series) []Series {
	out := make([]Series, len(in))
	for i, sr := range in {
		out[i] = Series{
			Name:   sr.Name,
			Unit:   sr.Unit,
			Values: append([]float64(nil), sr.Values...),
		}
	}
	return out
}

func (g ZoneGeometry) clone() ZoneGeometry {
	out := make(ZoneGeometry, len(g))
	for name, z := range g {
		out[name] = z
	}
	return out
}

// OrderedNames returns the declared zone names sorted top-to-bottom.
func (g ZoneGeometry) OrderedNames() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		zi, zj := g[names[i]], g[names[j]]
		if zi.YMin != zj.YMin {
			return zi.YMin > zj.YMin
		}
		return names[i] < names[j]
	})
	return names
}

func (g ZoneGeometry) validate() error {
	for _, name := range []string{ZoneBrandBar, ZoneTitle, ZonePlot, ZoneAxisLabels, ZoneSource} {
		if _, ok := g[name]; !ok {
			return specErr("zone_geometry", "missing zone %q", name)
		}
	}

	for name, z := range g {
		if z.YMin < 0 || z.YMax > 1 {
			return specErr("zone_geometry", "zone %q extends outside [0,1]", name)
		}
		if z.YMin >= z.YMax {
			return specErr("zone_geometry", "zone %q has y_min >= y_max", name)
		}
	}

	names := g.OrderedNames()
	for i := 1; i < len(names); i++ {
		upper := g[names[i-1]]
		lower := g[names[i]]
		gap := upper.YMin - lower.YMax
		if gap+geomEps < MinZoneGap {
			return specErr("zone_geometry", "zones %q and %q overlap or sit closer than %v", names[i-1], names[i], MinZoneGap)
		}
	}
	return nil
}
