package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	_ "modernc.org/sqlite"
)

const defaultSchemaCacheTTL = 5 * time.Minute

// Config configures a Store.
type Config struct {
	Logger         *slog.Logger
	Path           string
	SchemaCacheTTL time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Path == "" {
		return errors.New("database path is required")
	}
	if c.SchemaCacheTTL == 0 {
		c.SchemaCacheTTL = defaultSchemaCacheTTL
	}
	return nil
}

// Result holds the rows returned by a query.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Count returns the number of rows.
func (r Result) Count() int { return len(r.Rows) }

// Store is read/write access to the performance database.
type Store struct {
	log *slog.Logger
	db  *sql.DB

	schema    *ttlcache.Cache[string, []string]
	schemaTTL time.Duration
}

// Open opens (creating if needed) the SQLite database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := New(cfg.Logger, db)
	s.schemaTTL = cfg.SchemaCacheTTL
	return s, nil
}

// New wraps an existing database handle.
func New(log *slog.Logger, db *sql.DB) *Store {
	return &Store{
		log:       log,
		db:        db,
		schema:    ttlcache.New(ttlcache.WithTTL[string, []string](defaultSchemaCacheTTL)),
		schemaTTL: defaultSchemaCacheTTL,
	}
}

// Exists reports whether a database file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// Query executes sql and returns every row as a column-name map.
func (s *Store) Query(ctx context.Context, query string) (Result, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read columns: %w", err)
	}

	result := Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return val
	}
}

// Columns returns the column names of table, or an empty slice when the table
// does not exist.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	cached := s.schema.Get(table)
	if cached != nil {
		return cached.Value(), nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()

	cols := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(cols) > 0 {
		s.schema.Set(table, cols, s.schemaTTL)
	}
	return cols, nil
}

// SampleRow returns the first row of table, or nil when it is empty.
func (s *Store) SampleRow(ctx context.Context, table string) (map[string]any, error) {
	result, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 1", QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", table, err)
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}
	return result.Rows[0], nil
}

// ColumnType is a SQLite storage class used when creating tables.
type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeReal    ColumnType = "REAL"
	TypeText    ColumnType = "TEXT"
)

// ColumnDef names a column and its storage class.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// ReplaceTable drops table and recreates it with rows in a single transaction.
// Each row holds one value per column, in column order.
func (s *Store) ReplaceTable(ctx context.Context, table string, cols []ColumnDef, rows [][]any) error {
	if len(cols) == 0 {
		return fmt.Errorf("table %s has no columns", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return fmt.Errorf("failed to drop %s: %w", table, err)
	}

	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdent(c.Name) + " " + string(c.Type)
		names[i] = QuoteIdent(c.Name)
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(cols))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.schema.Delete(table)

	s.log.Info("store: table replaced", "table", table, "columns", len(cols), "rows", len(rows))
	return nil
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
