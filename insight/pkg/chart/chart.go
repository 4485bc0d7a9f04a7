package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Library is the client-side rendering library the figures target.
const Library = "plotly"

// Type selects the expected row shape and the figure layout.
type Type string

const (
	Trend                Type = "trend"
	ComparisonTrend      Type = "comparison_trend"
	ExternalRevenueTrend Type = "external_revenue_trend"
)

// Canonical series columns.
const (
	ColPeriod     = "period"
	ColUnitName   = "unit_name"
	ColMetricType = "metric_type"
	ColActual     = "actual_mtd"
	ColTarget     = "target_mtd"
	ColPrevYear   = "prev_year_mtd"
	ColPrevMonth  = "prev_month_mtd"
)

var aliases = map[string]string{
	"real_mtd":   ColActual,
	"prev_year":  ColPrevYear,
	"prev_month": ColPrevMonth,
}

var required = map[Type][]string{
	Trend:                {ColPeriod, ColUnitName, ColMetricType, ColActual},
	ComparisonTrend:      {ColPeriod, ColUnitName, ColMetricType, ColActual, ColTarget, ColPrevYear},
	ExternalRevenueTrend: {ColPeriod, ColUnitName, ColActual, ColTarget, ColPrevYear},
}

// MetricPriority orders subplots. Metrics not listed follow in encounter order.
var MetricPriority = []string{"REVENUE", "COE", "EBITDA", "NET INCOME", "EBIT", "EBT"}

type seriesStyle struct {
	column string
	name   string
	color  string
	dash   string
	symbol string
}

var seriesStyles = []seriesStyle{
	{ColActual, "Actual", "#0d6efd", "solid", "circle"},
	{ColTarget, "Target", "#ffc107", "dash", "diamond"},
	{ColPrevYear, "Prev Year", "#6f42c1", "dot", "cross"},
	{ColPrevMonth, "Prev Month", "#20c997", "dashdot", "square"},
}

// Figure is a Plotly figure.
type Figure struct {
	Data   []Trace        `json:"data"`
	Layout map[string]any `json:"layout"`

	subplotTitles []string
	categories    []string
}

// SubplotTitles returns the metric name of each subplot in display order.
func (f *Figure) SubplotTitles() []string { return f.subplotTitles }

// Categories returns the x-axis categories in display order.
func (f *Figure) Categories() []string { return f.categories }

// JSON encodes the figure.
func (f *Figure) JSON() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode figure: %w", err)
	}
	return string(b), nil
}

type Line struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
	Dash  string  `json:"dash"`
}

type Marker struct {
	Symbol string `json:"symbol"`
	Size   int    `json:"size"`
}

// Trace is a single scatter series.
type Trace struct {
	Type          string    `json:"type"`
	Mode          string    `json:"mode"`
	Name          string    `json:"name"`
	X             []string  `json:"x"`
	Y             []float64 `json:"y"`
	XAxis         string    `json:"xaxis"`
	YAxis         string    `json:"yaxis"`
	Line          Line      `json:"line"`
	Marker        Marker    `json:"marker"`
	Opacity       float64   `json:"opacity"`
	HoverTemplate string    `json:"hovertemplate"`
	CustomData    []string  `json:"customdata"`
	LegendGroup   string    `json:"legendgroup"`
	ShowLegend    bool      `json:"showlegend"`
}

type point struct {
	period   int
	category string
	metric   string
	values   map[string]float64
}

// CreateTrendChart builds a figure from query rows. It returns nil when rows
// are empty, the chart type is unknown, a required column is missing, a period
// is not a YYYYMM value, or a series value is not numeric.
func CreateTrendChart(rows []map[string]any, chartType Type) *Figure {
	req, ok := required[chartType]
	if !ok || len(rows) == 0 {
		return nil
	}

	rows = canonicalize(rows)
	for _, col := range req {
		if _, ok := rows[0][col]; !ok {
			return nil
		}
	}

	var series []seriesStyle
	for _, st := range seriesStyles {
		if _, ok := rows[0][st.column]; ok {
			series = append(series, st)
		}
	}

	points := make([]point, 0, len(rows))
	for _, row := range rows {
		p, ok := parsePoint(row, series, chartType)
		if !ok {
			return nil
		}
		points = append(points, p)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].period < points[j].period })

	unit := "Unknown Unit"
	if s, ok := rows[0][ColUnitName].(string); ok && s != "" {
		unit = s
	}

	if chartType == ExternalRevenueTrend {
		return externalRevenueFigure(points, series, unit)
	}
	return performanceFigure(points, series, unit)
}

func canonicalize(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			key := strings.ToLower(k)
			if canon, ok := aliases[key]; ok {
				key = canon
			}
			if _, exists := m[key]; exists && key != strings.ToLower(k) {
				continue
			}
			m[key] = v
		}
		out[i] = m
	}
	return out
}

func parsePoint(row map[string]any, series []seriesStyle, chartType Type) (point, bool) {
	period, ok := parsePeriod(row[ColPeriod])
	if !ok {
		return point{}, false
	}
	p := point{
		period:   period,
		category: fmt.Sprintf("%04d-%02d", period/100, period%100),
		values:   make(map[string]float64, len(series)),
	}
	if chartType != ExternalRevenueTrend {
		m, ok := row[ColMetricType].(string)
		if !ok {
			return point{}, false
		}
		p.metric = m
	}
	for _, st := range series {
		v, ok := toFloat(row[st.column])
		if !ok {
			return point{}, false
		}
		p.values[st.column] = v
	}
	return p, true
}

func parsePeriod(v any) (int, bool) {
	var s string
	switch val := v.(type) {
	case int64:
		s = strconv.FormatInt(val, 10)
	case int:
		s = strconv.Itoa(val)
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		s = strconv.FormatInt(int64(val), 10)
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	default:
		return 0, false
	}
	if len(s) != 6 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if m := n % 100; m < 1 || m > 12 {
		return 0, false
	}
	return n, true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int64:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case json.Number:
		x, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func periodText(points []point) string {
	first, last := points[0].period, points[len(points)-1].period
	return fmt.Sprintf("%s %d - %s %d",
		time.Month(first%100), first/100,
		time.Month(last%100), last/100)
}

func categoriesOf(points []point) []string {
	var cats []string
	seen := map[string]bool{}
	for _, p := range points {
		if !seen[p.category] {
			seen[p.category] = true
			cats = append(cats, p.category)
		}
	}
	return cats
}

// orderMetrics returns distinct metrics by priority, then unknown metrics in
// the order they appear.
func orderMetrics(points []point) []string {
	present := map[string]bool{}
	var encountered []string
	for _, p := range points {
		if !present[p.metric] {
			present[p.metric] = true
			encountered = append(encountered, p.metric)
		}
	}
	known := map[string]bool{}
	var out []string
	for _, m := range MetricPriority {
		known[m] = true
		if present[m] {
			out = append(out, m)
		}
	}
	for _, m := range encountered {
		if !known[m] {
			out = append(out, m)
		}
	}
	return out
}

func buildTraces(points []point, series []seriesStyle, axis int, showLegend bool, hover string) []Trace {
	traces := make([]Trace, 0, len(series))
	for _, st := range series {
		t := Trace{
			Type:          "scatter",
			Mode:          "lines+markers",
			Name:          st.name,
			XAxis:         axisRef("x", axis),
			YAxis:         axisRef("y", axis),
			Line:          Line{Color: st.color, Width: 2.5, Dash: st.dash},
			Marker:        Marker{Symbol: st.symbol, Size: 8},
			Opacity:       0.9,
			HoverTemplate: hover,
			LegendGroup:   st.name,
			ShowLegend:    showLegend,
		}
		for _, p := range points {
			v := p.values[st.column]
			t.X = append(t.X, p.category)
			t.Y = append(t.Y, v)
			t.CustomData = append(t.CustomData, FormatHover(v))
		}
		traces = append(traces, t)
	}
	return traces
}

func axisRef(prefix string, n int) string {
	if n == 1 {
		return prefix
	}
	return prefix + strconv.Itoa(n)
}

func axisKey(prefix string, n int) string {
	if n == 1 {
		return prefix + "axis"
	}
	return prefix + "axis" + strconv.Itoa(n)
}

func baseLayout(title string) map[string]any {
	return map[string]any{
		"title": map[string]any{
			"text": "<b>" + title + "</b>",
			"x":    0.5,
			"y":    0.96,
			"font": map[string]any{"size": 20},
		},
		"autosize":      true,
		"template":      "plotly_white",
		"font":          map[string]any{"family": "Segoe UI, Arial, sans-serif", "size": 12, "color": "#444"},
		"paper_bgcolor": "white",
		"plot_bgcolor":  "#F8F9FA",
		"legend": map[string]any{
			"title":       map[string]any{"text": "<b>Legend</b>"},
			"orientation": "v",
			"yanchor":     "top",
			"y":           1,
			"xanchor":     "left",
			"x":           1.05,
			"font":        map[string]any{"size": 11},
			"bgcolor":     "rgba(255, 255, 255, 0.9)",
			"bordercolor": "#E0E0E0",
			"borderwidth": 1,
		},
		"hovermode": "x unified",
		"hoverlabel": map[string]any{
			"bgcolor":     "white",
			"font":        map[string]any{"size": 12, "family": "Segoe UI, Arial, sans-serif"},
			"bordercolor": "#CCCCCC",
		},
	}
}

func xAxis(categories []string, domain [2]float64, anchor string) map[string]any {
	return map[string]any{
		"type":          "category",
		"categoryorder": "array",
		"categoryarray": categories,
		"domain":        domain,
		"anchor":        anchor,
		"showgrid":      true,
		"gridwidth":     1,
		"gridcolor":     "#E0E0E0",
		"showline":      true,
		"linewidth":     1,
		"linecolor":     "#B0B0B0",
		"automargin":    true,
	}
}

func yAxis(domain [2]float64, anchor string) map[string]any {
	return map[string]any{
		"title":      map[string]any{"text": ""},
		"domain":     domain,
		"anchor":     anchor,
		"showgrid":   true,
		"gridwidth":  1,
		"gridcolor":  "#E0E0E0",
		"showline":   true,
		"linewidth":  1,
		"linecolor":  "#B0B0B0",
		"automargin": true,
	}
}

func footer(text string, y float64) map[string]any {
	return map[string]any{
		"text":      "Period: " + text,
		"showarrow": false,
		"xref":      "paper",
		"yref":      "paper",
		"x":         0.5,
		"y":         y,
		"xanchor":   "center",
		"yanchor":   "top",
		"font":      map[string]any{"size": 10, "color": "gray"},
	}
}

func externalRevenueFigure(points []point, series []seriesStyle, unit string) *Figure {
	cats := categoriesOf(points)
	layout := baseLayout("External Revenue Trend - " + unit)
	layout["margin"] = map[string]any{"l": 90, "r": 160, "t": 110, "b": 80}
	layout["xaxis"] = xAxis(cats, [2]float64{0, 1}, "y")
	layout["yaxis"] = yAxis([2]float64{0, 1}, "x")
	layout["annotations"] = []map[string]any{footer(periodText(points), -0.15)}

	return &Figure{
		Data:       buildTraces(points, series, 1, true, "<b>%{customdata}</b><extra></extra>"),
		Layout:     layout,
		categories: cats,
	}
}

func performanceFigure(points []point, series []seriesStyle, unit string) *Figure {
	metrics := orderMetrics(points)
	cats := categoriesOf(points)

	cols := 1
	if len(metrics) > 1 {
		cols = 2
	}
	rows := (len(metrics) + cols - 1) / cols

	const hSpacing = 0.1
	vSpacing := 0.0
	if rows > 1 {
		vSpacing = 0.6 / float64(rows)
	}
	cellW := (1 - hSpacing*float64(cols-1)) / float64(cols)
	cellH := (1 - vSpacing*float64(rows-1)) / float64(rows)

	layout := baseLayout("Interactive Performance Analysis - " + unit)
	layout["height"] = max(450, 375*rows)
	layout["margin"] = map[string]any{"l": 90, "r": 160, "t": 110, "b": 90}

	fig := &Figure{Layout: layout, subplotTitles: metrics, categories: cats}
	var annotations []map[string]any
	for i, metric := range metrics {
		n := i + 1
		r, c := i/cols, i%cols
		x0 := float64(c) * (cellW + hSpacing)
		yTop := 1 - float64(r)*(cellH+vSpacing)
		xDomain := [2]float64{x0, x0 + cellW}
		yDomain := [2]float64{yTop - cellH, yTop}

		layout[axisKey("x", n)] = xAxis(cats, xDomain, axisRef("y", n))
		layout[axisKey("y", n)] = yAxis(yDomain, axisRef("x", n))
		annotations = append(annotations, map[string]any{
			"text":      "<b>" + metric + "</b>",
			"showarrow": false,
			"xref":      "paper",
			"yref":      "paper",
			"x":         x0 + cellW/2,
			"y":         yTop,
			"xanchor":   "center",
			"yanchor":   "bottom",
			"font":      map[string]any{"size": 14},
		})

		var metricPoints []point
		for _, p := range points {
			if p.metric == metric {
				metricPoints = append(metricPoints, p)
			}
		}
		fig.Data = append(fig.Data, buildTraces(metricPoints, series, n, i == 0, "<b>%{customdata}</b><extra></extra>")...)
	}
	annotations = append(annotations, footer(periodText(points), -0.3/float64(rows)))
	layout["annotations"] = annotations
	return fig
}
