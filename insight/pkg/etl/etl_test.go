package etl_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cfuwib/insightbot/insight/pkg/etl"
	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sheetRow struct {
	period any
	actual any
	target any
	div    any
}

// writeWorkbook writes a workbook whose sheets share the layout
// Period | Revenue (Actual, Target) | DIV, with merged header cells.
func writeWorkbook(t *testing.T, path string, sheets map[string][]sheetRow) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(name, "A1", "Period"))
		require.NoError(t, f.MergeCell(name, "A1", "A2"))
		require.NoError(t, f.SetCellValue(name, "B1", "Revenue"))
		require.NoError(t, f.MergeCell(name, "B1", "C1"))
		require.NoError(t, f.SetCellValue(name, "B2", "Actual"))
		require.NoError(t, f.SetCellValue(name, "C2", "Target"))
		require.NoError(t, f.SetCellValue(name, "D1", "DIV"))

		for i, r := range rows {
			values := []any{r.period, r.actual, r.target, r.div}
			for j, v := range values {
				if v == nil {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(j+1, i+3)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(name, cell, v))
			}
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func TestETL_ReadSheet_FlattensMergedHeaders(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "book.xlsx")
	writeWorkbook(t, path, map[string][]sheetRow{
		"Mei25": {{202505, 1500000000.25, 2000000000, "CFU WIB"}},
	})

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	frame, err := etl.ReadSheet(f, "Mei25")
	require.NoError(t, err)
	assert.Equal(t, []string{"period", "revenue_actual", "revenue_target", "div", "period_source"}, frame.Columns)
	require.Len(t, frame.Rows, 1)
	assert.Equal(t, []string{"202505", "1500000000.25", "2000000000", "CFU WIB", "May25"}, frame.Rows[0])
}

func TestETL_ReadSheet_Errors(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	defer f.Close()

	_, err := etl.ReadSheet(f, "Missing")
	require.Error(t, err)

	_, err = etl.ReadSheet(f, "Sheet1")
	require.ErrorContains(t, err, "fewer than two header rows")
}

func TestETL_Concat_UnionsColumnsAndInfersTypes(t *testing.T) {
	t.Parallel()

	cols, rows := etl.Concat([]etl.Frame{
		{Columns: []string{"period", "value", "period_source"}, Rows: [][]string{
			{"202501", "10", "Jan25"},
			{"202501", "", "Jan25"},
		}},
		{Columns: []string{"period", "value", "note", "period_source"}, Rows: [][]string{
			{"202502", "10.5", "ok", "Feb25"},
		}},
	})

	want := []store.ColumnDef{
		{Name: "period", Type: store.TypeInteger},
		{Name: "value", Type: store.TypeReal},
		{Name: "period_source", Type: store.TypeText},
		{Name: "note", Type: store.TypeText},
	}
	if diff := cmp.Diff(want, cols); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, [][]any{
		{int64(202501), 10.0, "Jan25", nil},
		{int64(202501), nil, "Jan25", nil},
		{int64(202502), 10.5, "Feb25", "ok"},
	}, rows)
}

func TestETL_Concat_NaNIsText(t *testing.T) {
	t.Parallel()

	cols, rows := etl.Concat([]etl.Frame{{Columns: []string{"x"}, Rows: [][]string{{"1"}, {"NaN"}}}})
	assert.Equal(t, store.TypeText, cols[0].Type)
	assert.Equal(t, [][]any{{"1"}, {"NaN"}}, rows)
}

type captureWriter struct {
	mu     sync.Mutex
	tables map[string][][]any
	cols   map[string][]store.ColumnDef
	err    error
}

func (w *captureWriter) ReplaceTable(_ context.Context, table string, cols []store.ColumnDef, rows [][]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.tables == nil {
		w.tables = map[string][][]any{}
		w.cols = map[string][]store.ColumnDef{}
	}
	w.tables[table] = rows
	w.cols[table] = cols
	return nil
}

func TestETL_Loader_LoadsSheetsAndSkipsFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][]sheetRow{
		"Jan25": {{202501, 1, 2, "DWS"}, {202501, 3, 4, "TIF"}},
		"Feb25": {{202502, 5, 6, "DWS"}},
	})

	w := &captureWriter{}
	loader, err := etl.NewLoader(etl.Config{Logger: discard(), Writer: w, DataPath: dir})
	require.NoError(t, err)

	summaries, err := loader.Load(context.Background(), []templates.Table{
		{
			Name: "cfu_performance_data",
			Sources: []templates.Source{
				{FileName: "a.xlsx", SheetNames: []string{"Jan25", "Nope", "Feb25"}},
				{FileName: "missing.xlsx", SheetNames: []string{"Jan25"}},
				{FileName: "", SheetNames: []string{"Jan25"}},
			},
		},
		{Name: "empty_sources"},
		{Name: "nothing_loaded", Sources: []templates.Source{{FileName: "missing.xlsx", SheetNames: []string{"x"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []etl.Summary{{Table: "cfu_performance_data", Sheets: 2, Rows: 3}}, summaries)

	rows := w.tables["cfu_performance_data"]
	require.Len(t, rows, 3)
	assert.Equal(t, []any{int64(202501), int64(1), int64(2), "DWS", "Jan25"}, rows[0])
	assert.Equal(t, []any{int64(202502), int64(5), int64(6), "DWS", "Feb25"}, rows[2])
	assert.NotContains(t, w.tables, "empty_sources")
	assert.NotContains(t, w.tables, "nothing_loaded")
}

func TestETL_Loader_WriteError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][]sheetRow{"Jan25": {{202501, 1, 2, "DWS"}}})

	loader, err := etl.NewLoader(etl.Config{Logger: discard(), Writer: &captureWriter{err: errors.New("disk full")}, DataPath: dir})
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), []templates.Table{
		{Name: "t", Sources: []templates.Source{{FileName: "a.xlsx", SheetNames: []string{"Jan25"}}}},
	})
	require.EqualError(t, err, "failed to write table t: disk full")
}

func TestETL_NewLoader_Validate(t *testing.T) {
	t.Parallel()

	_, err := etl.NewLoader(etl.Config{Writer: &captureWriter{}})
	require.EqualError(t, err, "logger is required")
	_, err = etl.NewLoader(etl.Config{Logger: discard()})
	require.EqualError(t, err, "writer is required")
}

func TestETL_LoadIfMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWorkbook(t, filepath.Join(dir, "a.xlsx"), map[string][]sheetRow{"Jan25": {{202501, 1, 2, "DWS"}}})
	tables := []templates.Table{{Name: "cfu_performance_data", Sources: []templates.Source{{FileName: "a.xlsx", SheetNames: []string{"Jan25"}}}}}
	dbPath := filepath.Join(dir, "db", "CFU_API.db")
	ctx := context.Background()

	s, loaded, err := etl.LoadIfMissing(ctx, discard(), dir, dbPath, tables)
	require.NoError(t, err)
	assert.True(t, loaded)
	res, err := s.Query(ctx, "SELECT div, period_source FROM cfu_performance_data")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"div": "DWS", "period_source": "Jan25"}}, res.Rows)
	require.NoError(t, s.Close())

	s, loaded, err = etl.LoadIfMissing(ctx, discard(), dir, dbPath, tables)
	require.NoError(t, err)
	assert.False(t, loaded)
	require.NoError(t, s.Close())
}
