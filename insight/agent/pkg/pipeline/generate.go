package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateSQL asks the LLM for one SQLite query answering query against the
// selected table.
func (p *Pipeline) GenerateSQL(ctx context.Context, sel Selection, columns []string, firstRow map[string]any, query string) (string, error) {
	system := render(p.cfg.Prompts.Generate, map[string]string{
		"USER_QUERY":         query,
		"INSTRUCTION_PROMPT": sel.Instruction,
		"TABLE_NAME":         sel.TableName,
		"COLUMNS_LIST":       strings.Join(columns, ", "),
		"FIRST_ROW":          formatRow(firstRow),
	})

	raw, err := p.complete(ctx, PurposeGenerate, system, "")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSQLGeneration, err)
	}

	sql := cleanSQL(raw)
	if sql == "" {
		return "", fmt.Errorf("%w: empty response", ErrSQLGeneration)
	}
	p.log.Info("pipeline: generated sql", "sql", sql)
	return sql, nil
}

// cleanSQL extracts a single statement from an LLM response: code fences and
// leading or trailing prose are dropped, as is the terminating semicolon.
func cleanSQL(response string) string {
	s := strings.TrimSpace(response)

	if start := strings.Index(s, "```"); start != -1 {
		body := s[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 && !looksLikeSQL(body[:nl]) {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			body = body[:end]
		}
		s = strings.TrimSpace(body)
	}

	if !looksLikeSQL(s) {
		upper := strings.ToUpper(s)
		idx := -1
		for _, kw := range []string{"WITH ", "SELECT "} {
			if i := strings.Index(upper, kw); i != -1 && (idx == -1 || i < idx) {
				idx = i
			}
		}
		if idx == -1 {
			return ""
		}
		s = s[idx:]
	}

	if end := statementEnd(s); end != -1 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// statementEnd returns the index of the first semicolon outside quotes, or -1.
func statementEnd(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ';':
			return i
		}
	}
	return -1
}

func looksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func formatRow(row map[string]any) string {
	if len(row) == 0 {
		return "{}"
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(data)
}
