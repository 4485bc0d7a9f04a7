package chart

import "strings"

var chartPrompts = map[string]bool{
	"CFU Trend Analysis":                  true,
	"CFU Comparison Trend Analysis":       true,
	"CFU External Revenue Trend Analysis": true,
}

var chartKeywords = []string{"trend", "grafik", "chart", "perbandingan", "tampilkan"}

// ShouldGenerateChart reports whether a turn should attempt a chart, either
// because the selected template is a trend template or the query asks for one.
func ShouldGenerateChart(promptName, query string) bool {
	if chartPrompts[promptName] {
		return true
	}
	q := strings.ToLower(query)
	for _, kw := range chartKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// TypeFor picks the chart type for a template name.
func TypeFor(promptName string) Type {
	switch {
	case strings.Contains(promptName, "External Revenue Trend"):
		return ExternalRevenueTrend
	case strings.Contains(promptName, "Comparison Trend"):
		return ComparisonTrend
	default:
		return Trend
	}
}
