package etl_test

import (
	"testing"

	"github.com/cfuwib/insightbot/insight/pkg/etl"
	"github.com/stretchr/testify/assert"
)

func TestETL_FlattenHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		top, bottom string
		want        string
	}{
		{"Unnamed: 0", "Period", "period"},
		{"Revenue", "Actual", "revenue_actual"},
		{"DIV", "Unnamed: 3_level_1", "div"},
		{"Month To Date", "Ach.", "month_to_date_ach"},
		{"YTD (Actual)", "Prev-Year", "ytd_actual_prev_year"},
		{"Week 1.0 5 / FM", "", "week_10_5___fm"},
		{"GMoM %", "", "gmom_"},
		{"", "L2", "l2"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, etl.FlattenHeader(tt.top, tt.bottom))
		})
	}
}

func TestETL_FlattenHeaders_Example(t *testing.T) {
	t.Parallel()

	got := etl.FlattenHeaders([][2]string{{"Unnamed: 0", "Period"}, {"Revenue", "Actual"}})
	assert.Equal(t, []string{"period", "revenue_actual"}, got)
}

func TestETL_FlattenHeaders_DedupesAndNamesEmpty(t *testing.T) {
	t.Parallel()

	got := etl.FlattenHeaders([][2]string{
		{"Revenue", "Actual"},
		{"Revenue", "Actual"},
		{"", ""},
		{"Revenue", "Actual"},
	})
	assert.Equal(t, []string{"revenue_actual", "revenue_actual_2", "unnamed_2", "revenue_actual_3"}, got)
}

func TestETL_NormalizePeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   string
		parsed bool
	}{
		{"Jan25", "Jan25", true},
		{"jan25", "Jan25", true},
		{"012025", "Jan25", true},
		{"122024", "Dec24", true},
		{"Mei25", "May25", true},
		{"Agu25", "Aug25", true},
		{"Agt25", "Aug25", true},
		{"Okt24", "Oct24", true},
		{"Des24", "Dec24", true},
		{"Summary", "Summary", false},
		{"132025", "132025", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, ok := etl.NormalizePeriod(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.parsed, ok)
		})
	}
}
