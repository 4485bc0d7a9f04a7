package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/stretchr/testify/require"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "insight.db")
	db, err := store.Open(store.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Path: path})
	require.NoError(t, err)
	defer db.Close()

	cols := []store.ColumnDef{
		{Name: "period", Type: store.TypeInteger},
		{Name: "unit_name", Type: store.TypeText},
		{Name: "metric_type", Type: store.TypeText},
		{Name: "actual_mtd", Type: store.TypeReal},
	}
	rows := [][]any{
		{int64(202501), "DWS", "REVENUE", 1500000.5},
		{int64(202502), "DWS", "REVENUE", 1750000.25},
	}
	require.NoError(t, db.ReplaceTable(context.Background(), "cfu_performance_data", cols, rows))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInsightAdmin_Query(t *testing.T) {
	t.Parallel()

	path := seedDB(t)
	out, err := execute(t, "--db", path, "query", "SELECT period, unit_name, actual_mtd FROM cfu_performance_data ORDER BY period")
	require.NoError(t, err)
	require.Contains(t, out, "202501")
	require.Contains(t, out, "1,500,000.5")
	require.Contains(t, out, "1,750,000.25")
	require.Contains(t, out, "2 row(s)")

	out, err = execute(t, "--db", path, "query", "--limit", "1", "SELECT period FROM cfu_performance_data")
	require.NoError(t, err)
	require.Contains(t, out, "2 row(s), showing 1")
}

func TestInsightAdmin_Query_Errors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--db", filepath.Join(t.TempDir(), "missing.db"), "query", "SELECT 1")
	require.ErrorContains(t, err, "does not exist")

	_, err = execute(t, "--db", seedDB(t), "query", "SELECT nope FROM cfu_performance_data")
	require.ErrorContains(t, err, "failed to execute query")
}

func TestInsightAdmin_Chart(t *testing.T) {
	t.Parallel()

	path := seedDB(t)
	out, err := execute(t, "--db", path, "chart", "--type", "trend", "SELECT * FROM cfu_performance_data")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(strings.TrimSpace(out))))

	outFile := filepath.Join(t.TempDir(), "fig.json")
	_, err = execute(t, "--db", path, "chart", "--type", "trend", "-o", outFile, "SELECT * FROM cfu_performance_data")
	require.NoError(t, err)
	require.FileExists(t, outFile)

	_, err = execute(t, "--db", path, "chart", "--type", "pie", "SELECT 1")
	require.ErrorContains(t, err, "invalid chart type")

	_, err = execute(t, "--db", path, "chart", "--type", "comparison_trend", "SELECT period FROM cfu_performance_data")
	require.ErrorContains(t, err, "required for this chart type")
}

func TestInsightAdmin_Catalog(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "catalog")
	require.NoError(t, err)
	require.Contains(t, out, "cfu_performance_data")
	require.Contains(t, out, "CFU Trend Analysis")

	out, err = execute(t, "catalog", "--show", "does not exist")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))
}

func TestInsightAdmin_FormatCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		col  string
		v    any
		want string
	}{
		{"period", int64(202501), "202501"},
		{"period", float64(202501), "202501"},
		{"actual_mtd", int64(1234567), "1,234,567"},
		{"actual_mtd", 1234.5, "1,234.5"},
		{"unit_name", "DWS", "DWS"},
		{"x", nil, ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatCell(tt.col, tt.v), "%s=%v", tt.col, tt.v)
	}
}
