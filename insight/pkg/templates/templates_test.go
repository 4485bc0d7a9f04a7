package templates_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTemplates_Load_RegistersAllTemplates(t *testing.T) {
	t.Parallel()

	s, err := templates.Load(discard())
	require.NoError(t, err)

	names := []string{
		"CFU Monthly Performance Analysis",
		"CFU Trend Analysis",
		"CFU Comparison Trend Analysis",
		"CFU Underperforming Products Analysis",
		"CFU Revenue Success Analysis",
		"CFU Revenue Failure Analysis",
		"CFU EBITDA Success Analysis",
		"CFU EBITDA Failure Analysis",
		"CFU Net Income Success Analysis",
		"CFU Net Income Failure Analysis",
		"CFU Negative Growth Products Analysis",
		"CFU EBITDA Negative Growth Analysis",
		"CFU External Revenue Analysis",
		"CFU External Revenue Trend Analysis",
	}
	prompts := s.Prompts()
	require.Len(t, prompts, len(names))
	for i, name := range names {
		assert.Equal(t, name, prompts[i].Name)
		assert.True(t, s.Has(name))
		assert.NotEmpty(t, prompts[i].Description)
	}
}

func TestTemplates_GetPromptByName_ReturnsExactFileText(t *testing.T) {
	t.Parallel()

	s, err := templates.Load(discard())
	require.NoError(t, err)

	for _, p := range s.Prompts() {
		raw, err := os.ReadFile(filepath.Join("catalog", p.File))
		require.NoError(t, err)
		assert.Equal(t, strings.TrimSpace(string(raw)), s.GetPromptByName(p.Name), p.Name)
		assert.NotEqual(t, s.Generic(), s.GetPromptByName(p.Name), p.Name)
	}
}

func TestTemplates_GetPromptByName_FallsBackToGeneric(t *testing.T) {
	t.Parallel()

	s, err := templates.Load(discard())
	require.NoError(t, err)

	for _, name := range []string{"", "unknown", "cfu trend analysis", "CFU Trend Analysis "} {
		assert.Equal(t, s.Generic(), s.GetPromptByName(name), "name=%q", name)
	}
	assert.Contains(t, s.Generic(), "SQL")
}

func TestTemplates_Tables(t *testing.T) {
	t.Parallel()

	s, err := templates.Load(discard())
	require.NoError(t, err)

	tbl, ok := s.Table("cfu_performance_data")
	require.True(t, ok)
	require.Len(t, tbl.Sources, 1)
	assert.Equal(t, "Format_Upload Radir_Sampel.xlsx", tbl.Sources[0].FileName)
	assert.Equal(t, []string{"Jan25", "Feb25", "Mar25", "Apr25", "Mei25", "Jun25", "Jul25"}, tbl.Sources[0].SheetNames)

	_, ok = s.Table("missing")
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(s.TableList(), "cfu_performance_data: "))
	assert.Len(t, strings.Split(s.PromptList(), "\n"), 14)
}

func TestTemplates_LoadFS_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name:    "missing catalog",
			fsys:    fstest.MapFS{},
			wantErr: "failed to read catalog",
		},
		{
			name:    "no generic",
			fsys:    fstest.MapFS{"c.yaml": {Data: []byte("templates: []\n")}},
			wantErr: "no generic template",
		},
		{
			name: "missing template file",
			fsys: fstest.MapFS{
				"c.yaml": {Data: []byte("generic_template: g.md\ntemplates:\n  - name: A\n    file: a.md\n")},
				"g.md":   {Data: []byte("generic")},
			},
			wantErr: "failed to read template a.md",
		},
		{
			name: "duplicate name",
			fsys: fstest.MapFS{
				"c.yaml": {Data: []byte("generic_template: g.md\ntemplates:\n  - name: A\n    file: g.md\n  - name: A\n    file: g.md\n")},
				"g.md":   {Data: []byte("generic")},
			},
			wantErr: `duplicate template name "A"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := templates.LoadFS(discard(), tt.fsys, "c.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
