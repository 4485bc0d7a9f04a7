package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

const (
	PeriodSourceColumn = "period_source"

	defaultConcurrency = 4
)

// TableWriter persists a fully materialized table.
type TableWriter interface {
	ReplaceTable(ctx context.Context, table string, cols []store.ColumnDef, rows [][]any) error
}

// Config configures a Loader.
type Config struct {
	Logger      *slog.Logger
	Writer      TableWriter
	DataPath    string
	Concurrency int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Writer == nil {
		return errors.New("writer is required")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	return nil
}

// Loader reads spreadsheet sources into database tables.
type Loader struct {
	log *slog.Logger
	cfg Config
}

func NewLoader(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{log: cfg.Logger, cfg: cfg}, nil
}

// Frame is the flattened content of one sheet.
type Frame struct {
	Sheet   string
	Columns []string
	Rows    [][]string
}

// Summary reports what Load wrote.
type Summary struct {
	Table  string
	Sheets int
	Rows   int
}

// Load reads every configured source and replaces each table that produced at
// least one sheet. Unreadable files and sheets are logged and skipped.
func (l *Loader) Load(ctx context.Context, tables []templates.Table) ([]Summary, error) {
	var summaries []Summary
	for _, table := range tables {
		if len(table.Sources) == 0 {
			l.log.Warn("etl: skipping table with no sources", "table", table.Name)
			continue
		}

		frames, err := l.readSources(ctx, table)
		if err != nil {
			return summaries, err
		}
		if len(frames) == 0 {
			l.log.Warn("etl: no sheets loaded", "table", table.Name)
			continue
		}

		cols, rows := Concat(frames)
		if err := l.cfg.Writer.ReplaceTable(ctx, table.Name, cols, rows); err != nil {
			return summaries, fmt.Errorf("failed to write table %s: %w", table.Name, err)
		}
		l.log.Info("etl: table loaded", "table", table.Name, "sheets", len(frames), "rows", len(rows))
		summaries = append(summaries, Summary{Table: table.Name, Sheets: len(frames), Rows: len(rows)})
	}
	return summaries, nil
}

func (l *Loader) readSources(ctx context.Context, table templates.Table) ([]Frame, error) {
	results := make([][]Frame, len(table.Sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for i, src := range table.Sources {
		if src.FileName == "" || len(src.SheetNames) == 0 {
			l.log.Warn("etl: skipping source with missing config", "table", table.Name)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = l.readFile(filepath.Join(l.cfg.DataPath, src.FileName), src.SheetNames)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var frames []Frame
	for _, r := range results {
		frames = append(frames, r...)
	}
	return frames, nil
}

func (l *Loader) readFile(path string, sheets []string) []Frame {
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		l.log.Error("etl: excel file not found", "path", path)
		return nil
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		l.log.Error("etl: failed to open workbook", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	var frames []Frame
	for _, sheet := range sheets {
		frame, err := ReadSheet(f, sheet)
		if err != nil {
			l.log.Error("etl: failed to process sheet", "path", path, "sheet", sheet, "error", err)
			continue
		}
		if _, ok := NormalizePeriod(sheet); !ok {
			l.log.Warn("etl: could not parse period from sheet name", "sheet", sheet)
		}
		l.log.Debug("etl: sheet processed", "path", path, "sheet", sheet, "rows", len(frame.Rows))
		frames = append(frames, frame)
	}
	return frames
}

// ReadSheet reads a sheet with a two-row header into a Frame. Top header cells
// covered by a merged range take the range's value.
func ReadSheet(f *excelize.File, sheet string) (Frame, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return Frame{}, err
	}
	if len(rows) < 2 {
		return Frame{}, fmt.Errorf("sheet %s has fewer than two header rows", sheet)
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	top := pad(rows[0], width)
	bottom := pad(rows[1], width)

	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read merged cells: %w", err)
	}
	for _, m := range merges {
		startCol, startRow, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			continue
		}
		endCol, endRow, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			continue
		}
		for r := startRow; r <= min(endRow, 2); r++ {
			header := top
			if r == 2 {
				header = bottom
				if startRow == 1 {
					// A vertical merge already named the column in the top row.
					continue
				}
			}
			for c := startCol; c <= endCol && c <= width; c++ {
				header[c-1] = m.GetCellValue()
			}
		}
	}

	pairs := make([][2]string, width)
	for i := range width {
		pairs[i] = [2]string{top[i], bottom[i]}
	}

	frame := Frame{
		Sheet:   sheet,
		Columns: append(FlattenHeaders(pairs), PeriodSourceColumn),
	}
	period, _ := NormalizePeriod(sheet)
	for _, r := range rows[2:] {
		if isBlank(r) {
			continue
		}
		frame.Rows = append(frame.Rows, append(pad(r, width), period))
	}
	return frame, nil
}

func pad(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Concat unions the frames' columns in first-seen order, infers a storage
// class per column and converts every cell. Missing and empty cells are NULL.
func Concat(frames []Frame) ([]store.ColumnDef, [][]any) {
	index := map[string]int{}
	var names []string
	for _, fr := range frames {
		for _, c := range fr.Columns {
			if _, ok := index[c]; !ok {
				index[c] = len(names)
				names = append(names, c)
			}
		}
	}

	raw := make([][]string, 0)
	present := make([][]bool, 0)
	for _, fr := range frames {
		for _, r := range fr.Rows {
			vals := make([]string, len(names))
			has := make([]bool, len(names))
			for i, c := range fr.Columns {
				if i < len(r) {
					vals[index[c]] = r[i]
					has[index[c]] = true
				}
			}
			raw = append(raw, vals)
			present = append(present, has)
		}
	}

	cols := make([]store.ColumnDef, len(names))
	for i, name := range names {
		cols[i] = store.ColumnDef{Name: name, Type: inferType(raw, present, i)}
	}

	out := make([][]any, len(raw))
	for r := range raw {
		row := make([]any, len(names))
		for i := range names {
			row[i] = convert(raw[r][i], present[r][i], cols[i].Type)
		}
		out[r] = row
	}
	return cols, out
}

func inferType(raw [][]string, present [][]bool, col int) store.ColumnType {
	typ := store.TypeInteger
	seen := false
	for r := range raw {
		v := strings.TrimSpace(raw[r][col])
		if !present[r][col] || v == "" {
			continue
		}
		seen = true
		if typ == store.TypeInteger {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			typ = store.TypeReal
		}
		if _, ok := parseFloat(v); !ok {
			return store.TypeText
		}
	}
	if !seen {
		return store.TypeText
	}
	return typ
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func convert(v string, present bool, typ store.ColumnType) any {
	v = strings.TrimSpace(v)
	if !present || v == "" {
		return nil
	}
	switch typ {
	case store.TypeInteger:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case store.TypeReal:
		f, _ := parseFloat(v)
		return f
	default:
		return v
	}
}

// LoadIfMissing opens the database at dbPath and, only when the file did not
// exist beforehand, populates it from the configured spreadsheets.
func LoadIfMissing(ctx context.Context, log *slog.Logger, dataPath, dbPath string, tables []templates.Table) (*store.Store, bool, error) {
	existed := store.Exists(dbPath)

	s, err := store.Open(store.Config{Logger: log, Path: dbPath})
	if err != nil {
		return nil, false, err
	}
	if existed {
		log.Info("etl: database exists, skipping load", "path", dbPath)
		return s, false, nil
	}

	loader, err := NewLoader(Config{Logger: log, Writer: s, DataPath: dataPath})
	if err != nil {
		s.Close()
		return nil, false, err
	}
	if _, err := loader.Load(ctx, tables); err != nil {
		s.Close()
		// Leave no half-written file behind, otherwise the next start skips the load.
		_ = os.Remove(dbPath)
		return nil, false, fmt.Errorf("failed to load spreadsheets: %w", err)
	}
	return s, true, nil
}
