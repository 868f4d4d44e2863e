// Package dataset loads chart requests from YAML files and resolves their
// series data, either inline or from spreadsheet references. It produces
// chartspec values; everything downstream of here works off the spec, never
// the raw files.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oviney/economist-agents-sub001/internal/chartspec"
	"github.com/oviney/economist-agents-sub001/internal/logging"
)

// Request is one chart to produce, as authored in a request file. Series
// values come either inline or from a referenced data file, never both.
type Request struct {
	ID       string      `yaml:"id"`
	Title    string      `yaml:"title"`
	Subtitle string      `yaml:"subtitle,omitempty"`
	Kind     string      `yaml:"kind"`
	Unit     string      `yaml:"unit,omitempty"`
	Source   string      `yaml:"source,omitempty"`
	Notes    string      `yaml:"notes,omitempty"`
	Series   []SeriesDef `yaml:"series,omitempty"`
	Data     *DataRef    `yaml:"data,omitempty"`
}

// SeriesDef is an inline series. Unit falls back to the request's unit.
type SeriesDef struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
	Unit   string    `yaml:"unit,omitempty"`
}

// DataRef points at an xlsx or csv file and names the columns to pull.
// Sheet defaults to the workbook's first sheet; LabelColumn optionally
// names a column whose cells become x-axis tick labels.
type DataRef struct {
	File        string      `yaml:"file"`
	Sheet       string      `yaml:"sheet,omitempty"`
	LabelColumn string      `yaml:"label_column,omitempty"`
	Columns     []ColumnDef `yaml:"columns"`
}

// ColumnDef maps one spreadsheet column onto a named series. Column is
// matched against the header row, case-insensitively.
type ColumnDef struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
	Unit   string `yaml:"unit,omitempty"`
}

// Issue is a dated bundle of chart requests produced together.
type Issue struct {
	Slug   string    `yaml:"slug"`
	Date   string    `yaml:"date,omitempty"`
	Charts []Request `yaml:"charts"`
}

// Resolved is a request with its data loaded: the validated-shape spec
// plus the prompt-bound source attribution and data notes.
type Resolved struct {
	Spec       *chartspec.ChartSpec
	SourceNote string
	DataNotes  string
}

// LoadRequest reads a single chart request file. A missing id defaults to
// the file's base name.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request file: %w", err)
	}

	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request file %s: %w", filepath.Base(path), err)
	}
	if req.ID == "" {
		req.ID = fileStem(path)
	}
	logging.DatasetDebug("loaded request %s from %s", req.ID, path)
	return &req, nil
}

// LoadIssue reads an issue file. A missing slug defaults to the file's
// base name; an issue with no charts is an error.
func LoadIssue(path string) (*Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issue file: %w", err)
	}

	var issue Issue
	if err := yaml.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("parse issue file %s: %w", filepath.Base(path), err)
	}
	if issue.Slug == "" {
		issue.Slug = fileStem(path)
	}
	if len(issue.Charts) == 0 {
		return nil, fmt.Errorf("issue %s has no charts", issue.Slug)
	}

	seen := make(map[string]bool, len(issue.Charts))
	for i := range issue.Charts {
		if issue.Charts[i].ID == "" {
			issue.Charts[i].ID = fmt.Sprintf("%s_chart%02d", issue.Slug, i+1)
		}
		if seen[issue.Charts[i].ID] {
			return nil, fmt.Errorf("issue %s: duplicate chart id %q", issue.Slug, issue.Charts[i].ID)
		}
		seen[issue.Charts[i].ID] = true
	}
	logging.Dataset("loaded issue %s: %d charts", issue.Slug, len(issue.Charts))
	return &issue, nil
}

// Resolve loads the request's series data and builds the chart spec.
// Relative data file paths are resolved against baseDir, normally the
// directory of the request file.
func (r *Request) Resolve(baseDir string) (*Resolved, error) {
	series, labels, err := resolveSeries(r, baseDir)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", r.ID, err)
	}

	spec, err := chartspec.New(r.Title, r.Subtitle, kindFromString(r.Kind), series)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", r.ID, err)
	}

	return &Resolved{
		Spec:       spec,
		SourceNote: r.Source,
		DataNotes:  joinNotes(r.Notes, labelNote(labels)),
	}, nil
}

// ResolveSeries loads just the series values for a request, without
// constructing a spec. Chart-shape errors are left to chartspec.
func ResolveSeries(r *Request, baseDir string) ([]chartspec.Series, error) {
	series, _, err := resolveSeries(r, baseDir)
	return series, err
}

func resolveSeries(r *Request, baseDir string) ([]chartspec.Series, []string, error) {
	switch {
	case len(r.Series) > 0 && r.Data != nil:
		return nil, nil, fmt.Errorf("both inline series and a data reference; pick one")
	case len(r.Series) > 0:
		series := make([]chartspec.Series, 0, len(r.Series))
		for _, def := range r.Series {
			series = append(series, chartspec.Series{
				Name:   def.Name,
				Values: append([]float64(nil), def.Values...),
				Unit:   fallback(def.Unit, r.Unit),
			})
		}
		return series, nil, nil
	case r.Data != nil:
		return loadDataRef(r, baseDir)
	default:
		return nil, nil, fmt.Errorf("no series data: define series inline or reference a data file")
	}
}

func loadDataRef(r *Request, baseDir string) ([]chartspec.Series, []string, error) {
	ref := r.Data
	if ref.File == "" {
		return nil, nil, fmt.Errorf("data reference has no file")
	}
	if len(ref.Columns) == 0 {
		return nil, nil, fmt.Errorf("data reference names no columns")
	}

	path := ref.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	var rows [][]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path, ref.Sheet)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, nil, fmt.Errorf("unsupported data file type %q (want .xlsx or .csv)", ext)
	}
	if err != nil {
		logging.Audit().DatasetLoad(path, 0, false, err.Error())
		return nil, nil, err
	}
	logging.Audit().DatasetLoad(path, len(rows), true, "")

	series, labels, err := seriesFromRows(rows, ref, r.Unit)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	logging.DatasetDebug("resolved %d series from %s", len(series), path)
	return series, labels, nil
}

// seriesFromRows matches the ref's columns against the header row and
// parses the cells below. Blank cells are skipped; anything else that is
// not a number is an error, so a typo never silently shortens a series.
func seriesFromRows(rows [][]string, ref *DataRef, defaultUnit string) ([]chartspec.Series, []string, error) {
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("data has no rows below the header")
	}
	header := rows[0]

	findColumn := func(name string) (int, bool) {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(name)) {
				return i, true
			}
		}
		return 0, false
	}

	series := make([]chartspec.Series, 0, len(ref.Columns))
	for _, col := range ref.Columns {
		idx, ok := findColumn(col.Column)
		if !ok {
			return nil, nil, fmt.Errorf("column %q not found (header row: %s)", col.Column, strings.Join(header, ", "))
		}
		var values []float64
		for rowNo, row := range rows[1:] {
			cell := ""
			if idx < len(row) {
				cell = strings.TrimSpace(row[idx])
			}
			if cell == "" {
				continue
			}
			v, ok := parseNumber(cell)
			if !ok {
				return nil, nil, fmt.Errorf("column %q row %d: cannot parse %q as a number", col.Column, rowNo+2, cell)
			}
			values = append(values, v)
		}
		name := col.Name
		if name == "" {
			name = col.Column
		}
		series = append(series, chartspec.Series{
			Name:   name,
			Values: values,
			Unit:   fallback(col.Unit, defaultUnit),
		})
	}

	var labels []string
	if ref.LabelColumn != "" {
		idx, ok := findColumn(ref.LabelColumn)
		if !ok {
			return nil, nil, fmt.Errorf("label column %q not found", ref.LabelColumn)
		}
		for _, row := range rows[1:] {
			if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
				labels = append(labels, strings.TrimSpace(row[idx]))
			}
		}
	}

	return series, labels, nil
}

func labelNote(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return fmt.Sprintf("Label the x-axis ticks, in order: %s.", strings.Join(labels, ", "))
}

func joinNotes(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, "\n")
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func kindFromString(s string) chartspec.ChartKind {
	return chartspec.ChartKind(strings.ToLower(strings.TrimSpace(s)))
}
