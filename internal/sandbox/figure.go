package sandbox

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Figure is a plot under construction inside the sandbox. Interpreted code
// builds one with NewFigure, adds series, and hands it to RenderPNG.
type Figure struct {
	Title  string
	XLabel string
	YLabel string

	lines []lineSeries
	bars  []barSeries
}

type lineSeries struct {
	name string
	xs   []float64
	ys   []float64
}

type barSeries struct {
	name   string
	values []float64
}

// NewFigure creates an empty figure.
func NewFigure() *Figure {
	return &Figure{}
}

// AddLine appends a named line series. xs and ys must have equal length.
func (f *Figure) AddLine(name string, xs, ys []float64) {
	f.lines = append(f.lines, lineSeries{name: name, xs: xs, ys: ys})
}

// AddBars appends a named bar series.
func (f *Figure) AddBars(name string, values []float64) {
	f.bars = append(f.bars, barSeries{name: name, values: values})
}

// RenderPNG draws the figure and returns it as a base64-encoded PNG data
// URI, ready to embed in a result payload.
func RenderPNG(f *Figure) (string, error) {
	if f == nil {
		return "", fmt.Errorf("nil figure")
	}
	if len(f.lines) == 0 && len(f.bars) == 0 {
		return "", fmt.Errorf("figure has no series")
	}

	p := plot.New()
	p.Title.Text = f.Title
	p.X.Label.Text = f.XLabel
	p.Y.Label.Text = f.YLabel

	for _, s := range f.lines {
		if len(s.xs) != len(s.ys) {
			return "", fmt.Errorf("line %q: %d x values vs %d y values", s.name, len(s.xs), len(s.ys))
		}
		pts := make(plotter.XYs, len(s.xs))
		for i := range s.xs {
			pts[i].X = s.xs[i]
			pts[i].Y = s.ys[i]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("building line %q: %w", s.name, err)
		}
		p.Add(line)
		if s.name != "" {
			p.Legend.Add(s.name, line)
		}
	}

	for _, s := range f.bars {
		vals := make(plotter.Values, len(s.values))
		copy(vals, s.values)
		bars, err := plotter.NewBarChart(vals, vg.Points(20))
		if err != nil {
			return "", fmt.Errorf("building bars %q: %w", s.name, err)
		}
		p.Add(bars)
		if s.name != "" {
			p.Legend.Add(s.name, bars)
		}
	}

	w, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("rendering figure: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("encoding png: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
