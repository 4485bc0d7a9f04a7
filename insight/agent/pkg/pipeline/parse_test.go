package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_Selection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		ok     bool
		table  string
		prompt string
	}{
		{
			name:   "plain object",
			raw:    `{"table_name": "cfu_performance_data", "prompt": "CFU Trend Analysis"}`,
			ok:     true,
			table:  "cfu_performance_data",
			prompt: "CFU Trend Analysis",
		},
		{
			name:   "fenced with prose",
			raw:    "Here you go:\n```json\n{\"table_name\": \"t\", \"prompt\": \"p\"}\n```\nDone.",
			ok:     true,
			table:  "t",
			prompt: "p",
		},
		{
			name:   "braces inside strings",
			raw:    `note {not json} {"table_name": "t", "prompt": "use {x} and \"q\""}`,
			ok:     true,
			table:  "t",
			prompt: `use {x} and "q"`,
		},
		{
			name: "missing required key",
			raw:  `{"table_name": "t"}`,
		},
		{
			name: "wrong type",
			raw:  `{"table_name": 3, "prompt": "p"}`,
		},
		{
			name: "no object",
			raw:  "I cannot help with that.",
		},
		{
			name: "unbalanced",
			raw:  `{"table_name": "t", "prompt": "p"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := ParseJSON[selectionResponse](tt.raw, selectionSchema)
			require.Equal(t, tt.ok, res.Ok())
			if !tt.ok {
				require.NotNil(t, res.Err)
				assert.Equal(t, tt.raw, res.Err.Raw)
				return
			}
			assert.Equal(t, tt.table, res.Value.TableName)
			assert.Equal(t, tt.prompt, res.Value.Prompt)
		})
	}
}

func TestParseJSON_ValueOr(t *testing.T) {
	t.Parallel()

	res := ParseJSON[Intent]("nope", intentSchema)
	assert.False(t, res.Ok())
	assert.Equal(t, DefaultIntent(), res.ValueOr(DefaultIntent()))

	res = ParseJSON[Intent](`{"wants_text": false, "wants_chart": true, "wants_table": false, "wants_simplified_numbers": false}`, intentSchema)
	require.True(t, res.Ok())
	assert.Equal(t, Intent{WantsChart: true}, res.ValueOr(DefaultIntent()))
}

func TestParseJSON_NilSchema(t *testing.T) {
	t.Parallel()

	res := ParseJSON[map[string]any](`{"a": 1}`, nil)
	require.True(t, res.Ok())
	assert.Equal(t, float64(1), res.Value["a"])
}

func TestParseError_RawPrefix(t *testing.T) {
	t.Parallel()

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	res := ParseJSON[Intent](string(long), intentSchema)
	require.False(t, res.Ok())
	assert.Len(t, res.Err.RawPrefix(), 300)
	assert.Contains(t, res.Err.Error(), "invalid LLM JSON")
}
