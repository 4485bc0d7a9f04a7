package etl

import (
	"fmt"
	"strings"
)

// FlattenHeader turns a two-row spreadsheet header cell pair into a single
// SQL-friendly column name.
func FlattenHeader(top, bottom string) string {
	t := normalizeLevel(top)
	b := normalizeLevel(bottom)

	var name string
	switch {
	case isUnnamed(t):
		name = b
	case isUnnamed(b):
		name = t
	default:
		name = t + "_" + b
	}

	name = strings.NewReplacer("(", "", ")", "", "/", "_", "-", "_").Replace(name)

	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// FlattenHeaders flattens header pairs and disambiguates repeated names with
// a numeric suffix. Columns whose name flattens to nothing are named by index.
func FlattenHeaders(pairs [][2]string) []string {
	out := make([]string, len(pairs))
	seen := make(map[string]int, len(pairs))
	for i, p := range pairs {
		name := FlattenHeader(p[0], p[1])
		if name == "" || name == "unnamed" {
			name = fmt.Sprintf("unnamed_%d", i)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = name
	}
	return out
}

func normalizeLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ".", "")
}

func isUnnamed(s string) bool {
	return s == "" || strings.Contains(s, "unnamed")
}
