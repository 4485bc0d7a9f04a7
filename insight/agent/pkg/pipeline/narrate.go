package pipeline

import (
	"context"
	"fmt"
	"strings"
)

const maxCellRunes = 100

const (
	simplifiedNumberFormat = "Simplify large numbers to Miliar and Juta with two decimals, using M for Miliar and Jt for Juta (1,234.57 M, 456.79 Jt)."
	fullNumberFormat       = "Write numbers in full with thousand separators and no unit abbreviation (1,234,567,890)."
)

// NumberFormatInstruction returns the formatting rule injected into the
// narration prompt for the recognized intent.
func NumberFormatInstruction(intent Intent) string {
	if intent.WantsSimplifiedNumbers {
		return simplifiedNumberFormat
	}
	return fullNumberFormat
}

// Narrate asks the LLM for an insight over the executed rows.
func (p *Pipeline) Narrate(ctx context.Context, sel Selection, query string, executed *ExecutedQuery, intent Intent) (string, error) {
	system := render(p.cfg.Prompts.Narrate, map[string]string{
		"TABLE_NAME":                sel.TableName,
		"NUMBER_FORMAT_INSTRUCTION": NumberFormatInstruction(intent),
		"USER_QUERY":                query,
		"INSTRUCTION_PROMPT":        sel.Instruction,
		"TABLE_DATA":                FormatRows(executed.Columns, executed.Rows),
	})

	out, err := p.complete(ctx, PurposeNarrate, system, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// FormatRows renders every row as a pipe-separated listing for the narration
// prompt. Rows are never elided so totals and rankings stay correct.
func FormatRows(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return "Query returned no results."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(columns, ", "))
	fmt.Fprintf(&sb, "Rows (%d total):\n", len(rows))

	for _, row := range rows {
		values := make([]string, len(columns))
		for j, col := range columns {
			values[j] = formatValueForLLM(row[col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}
	return sb.String()
}

// formatValueForLLM rounds floats to two decimals so long fractions are not
// mistaken for encoded values.
func formatValueForLLM(v any) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case nil:
		return ""
	default:
		return truncate(fmt.Sprintf("%v", v), maxCellRunes)
	}
}
