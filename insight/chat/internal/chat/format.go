package chat

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// NumberFormatter renders a cell or inline number.
type NumberFormatter func(v float64) string

// formatKeywords mark a request to re-render the previous answer with
// simplified numbers instead of asking a new question.
var formatKeywords = []string{"sederhanakan", "persingkat", "ringkas", "ubah satuan", "dalam miliar", "dalam juta", "simpelkan"}

// Large numbers with thousands separators, or seven or more bare digits.
var largeNumberPattern = regexp.MustCompile(`\b\d{1,3}(?:[.,]\d{3})+(?:\.\d+)?\b|\b\d{7,}\b`)

// IsFormatRequest reports whether query asks to simplify the last answer.
func IsFormatRequest(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range formatKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// FormatNumberSimplified renders billions as M (miliar) and millions as Jt
// (juta) with one decimal, and smaller values as grouped integers.
func FormatNumberSimplified(v float64) string {
	switch abs := math.Abs(v); {
	case abs >= 1e9:
		return humanize.FormatFloat("#,###.#", v/1e9) + " M"
	case abs >= 1e6:
		return humanize.FormatFloat("#,###.#", v/1e6) + " Jt"
	default:
		return humanize.FormatFloat("#,###.", v)
	}
}

// FormatInsightText rewrites every number of at least one million in text
// using format. Either separator may group thousands; a trailing group that
// is not three digits long is a fraction and is dropped.
func FormatInsightText(text string, format NumberFormatter) string {
	if text == "" {
		return ""
	}
	return largeNumberPattern.ReplaceAllStringFunc(text, func(match string) string {
		intPart := match
		if i := strings.LastIndexAny(match, ".,"); i >= 0 && len(match)-i-1 != 3 {
			intPart = match[:i]
		}
		digits := strings.NewReplacer(".", "", ",", "").Replace(intPart)
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || n < 1_000_000 {
			return match
		}
		return format(float64(n))
	})
}

// RowsToMarkdownTable renders rows as a markdown table. columns defaults to
// the keys of the first row in sorted order. Numeric cells outside the
// period column go through format when it is non-nil.
func RowsToMarkdownTable(rows []map[string]any, columns []string, format NumberFormatter) string {
	if len(rows) == 0 {
		return ""
	}
	if len(columns) == 0 {
		columns = sortedKeys(rows[0])
	}

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetHeader(columns)
	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = formatCell(row[col], col, format)
		}
		table.Append(values)
	}
	table.Render()
	return strings.TrimRight(sb.String(), "\n")
}

func formatCell(v any, col string, format NumberFormatter) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if format != nil && !strings.EqualFold(col, "period") {
			return format(x)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
