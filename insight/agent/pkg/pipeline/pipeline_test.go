package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	intentJSON = `{"wants_text": true, "wants_chart": false, "wants_table": true, "wants_simplified_numbers": false}`
	trendJSON  = `{"table_name": "cfu_performance_data", "prompt": "CFU Trend Analysis"}`
)

type progressRecorder struct {
	mu     sync.Mutex
	events []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *progressRecorder) stages() []ProgressStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressStage, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

func TestGetInsight_TrendWithChart(t *testing.T) {
	t.Parallel()

	llm := newMockLLM(map[Purpose][]mockResponse{
		PurposeIntent:   {text(intentJSON)},
		PurposeSelect:   {text(trendJSON)},
		PurposeAgent:    {text(`{"action": "Continue", "action_input": "Bagaimana trend Revenue unit DWS Januari sampai Februari 2025?", "final_answer": ""}`)},
		PurposeGenerate: {text("SELECT trend")},
		PurposeNarrate:  {text("Revenue DWS naik dari 100 ke 120.")},
	})
	q := &fakeQuerier{results: map[string]store.Result{"SELECT trend": revenueRows()}}
	p := newTestPipeline(t, llm, q)

	rec := &progressRecorder{}
	res, err := p.GetInsight(context.Background(), InsightRequest{Query: "trend revenue DWS"}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, "Revenue DWS naik dari 100 ke 120.", res.Output)
	assert.Equal(t, "cfu_performance_data", res.TableName)
	assert.Equal(t, "CFU Trend Analysis", res.PromptName)
	assert.Equal(t, "SELECT trend", res.SQL)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"period", "unit_name", "metric_type", "actual_mtd"}, res.DataColumns)
	assert.Len(t, res.DataRows, 2)
	assert.Equal(t, "trend", res.ChartType)
	assert.Equal(t, "plotly", res.ChartLibrary)
	assert.Contains(t, res.Chart, "REVENUE")
	assert.Contains(t, res.Chart, "2025-01")
	assert.False(t, res.Intent.WantsSimplifiedNumbers)

	assert.Equal(t, []ProgressStage{
		StageSelecting,
		StagePlanning, StageGeneratingSQL, StageExecuting, StageNarrating,
		StagePlanning,
		StageCharting,
		StageComplete,
	}, rec.stages())

	assert.Equal(t, 1, llm.count(PurposeAgent))
	assert.Contains(t, llm.lastSystem(PurposeNarrate), fullNumberFormat)
	assert.Contains(t, llm.lastSystem(PurposeNarrate), "trend revenue DWS")
}

func TestGetInsight_NoChartForNonTrendPrompt(t *testing.T) {
	t.Parallel()

	llm := newMockLLM(map[Purpose][]mockResponse{
		PurposeIntent:   {text(intentJSON)},
		PurposeSelect:   {text(`{"table_name": "cfu_performance_data", "prompt": "CFU Monthly Performance Analysis"}`)},
		PurposeAgent:    {text(`{"action": "Continue", "action_input": "performansi DWS Juli 2025", "final_answer": ""}`)},
		PurposeGenerate: {text("SELECT perf")},
		PurposeNarrate:  {text("Performa DWS baik.")},
	})
	q := &fakeQuerier{results: map[string]store.Result{"SELECT perf": revenueRows()}}
	p := newTestPipeline(t, llm, q)

	res, err := p.GetInsight(context.Background(), InsightRequest{Query: "performansi DWS Juli 2025"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Chart)
	assert.Empty(t, res.ChartType)
	assert.Equal(t, "Performa DWS baik.", res.Output)
}

func TestGetInsight_IntentForcesChart(t *testing.T) {
	t.Parallel()

	llm := newMockLLM(map[Purpose][]mockResponse{
		PurposeIntent:   {text(`{"wants_text": false, "wants_chart": true, "wants_table": false, "wants_simplified_numbers": true}`)},
		PurposeSelect:   {text(`{"table_name": "cfu_performance_data", "prompt": "CFU Monthly Performance Analysis"}`)},
		PurposeAgent:    {text(`{"action": "Continue", "action_input": "q", "final_answer": ""}`)},
		PurposeGenerate: {text("SELECT perf")},
		PurposeNarrate:  {text("ok")},
	})
	q := &fakeQuerier{results: map[string]store.Result{"SELECT perf": revenueRows()}}
	p := newTestPipeline(t, llm, q)

	res, err := p.GetInsight(context.Background(), InsightRequest{Query: "performa DWS"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Chart)
	assert.True(t, res.Intent.WantsChart)
	assert.Contains(t, llm.lastSystem(PurposeNarrate), simplifiedNumberFormat)
}

func TestGetInsight_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responses map[Purpose][]mockResponse
		schema    *fakeSchema
		wantErr   error
	}{
		{
			name: "invalid table",
			responses: map[Purpose][]mockResponse{
				PurposeSelect: {text(`{"table_name": "salaries", "prompt": "CFU Trend Analysis"}`)},
			},
			wantErr: ErrInvalidTable,
		},
		{
			name: "table without columns",
			responses: map[Purpose][]mockResponse{
				PurposeSelect: {text(trendJSON)},
			},
			schema:  &fakeSchema{},
			wantErr: ErrTableNotFound,
		},
		{
			name: "selection llm failure",
			responses: map[Purpose][]mockResponse{
				PurposeSelect: {{err: errors.New("connection refused")}},
			},
			wantErr: ErrLLM,
		},
		{
			name: "sql generation failure",
			responses: map[Purpose][]mockResponse{
				PurposeSelect:   {text(trendJSON)},
				PurposeAgent:    {text(`{"action": "Continue", "action_input": "q", "final_answer": ""}`)},
				PurposeGenerate: {{err: errors.New("timeout")}},
			},
			wantErr: ErrSQLGeneration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			llm := newMockLLM(tt.responses)
			p := newTestPipeline(t, llm, &fakeQuerier{})
			if tt.schema != nil {
				p.cfg.Schema = tt.schema
			}

			rec := &progressRecorder{}
			res, err := p.GetInsight(context.Background(), InsightRequest{Query: "q"}, rec.record)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)

			stages := rec.stages()
			require.NotEmpty(t, stages)
			assert.Equal(t, StageError, stages[len(stages)-1])
		})
	}
}

func TestSelect_FallsBackToFirstEntries(t *testing.T) {
	t.Parallel()

	llm := newMockLLM(map[Purpose][]mockResponse{PurposeSelect: {text("tabelnya yang performance ya")}})
	p := newTestPipeline(t, llm, &fakeQuerier{})

	sel, err := p.Select(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "cfu_performance_data", sel.TableName)
	assert.Equal(t, "CFU Monthly Performance Analysis", sel.PromptName)
	assert.NotEmpty(t, sel.Instruction)

	system := llm.lastSystem(PurposeSelect)
	assert.Contains(t, system, "cfu_performance_data: ")
	assert.Contains(t, system, "CFU External Revenue Trend Analysis: ")
}

func TestSelect_UnknownPromptUsesGeneric(t *testing.T) {
	t.Parallel()

	llm := newMockLLM(map[Purpose][]mockResponse{
		PurposeSelect: {text(`{"table_name": "cfu_performance_data", "prompt": "Something Else"}`)},
	})
	p := newTestPipeline(t, llm, &fakeQuerier{})

	sel, err := p.Select(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Something Else", sel.PromptName)

	tmpl, err := templates.Load(discard())
	require.NoError(t, err)
	assert.Equal(t, tmpl.Generic(), sel.Instruction)
}

type emptyTemplates struct{}

func (emptyTemplates) GetPromptByName(string) string { return "" }
func (emptyTemplates) Tables() []templates.Table { return nil }
func (emptyTemplates) Prompts() []templates.Prompt { return nil }
func (emptyTemplates) TableList() string { return "" }
func (emptyTemplates) PromptList() string { return "" }

func TestSelect_NoFallbackAvailable(t *testing.T) {
	t.Parallel()

	llm := newMockLLM(map[Purpose][]mockResponse{PurposeSelect: {text("???")}})
	p := newTestPipeline(t, llm, &fakeQuerier{})
	p.cfg.Templates = emptyTemplates{}

	_, err := p.Select(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.EqualError(t, cfg.Validate(), "logger is required")

	prompts, err := LoadPrompts()
	require.NoError(t, err)
	cfg = &Config{
		Logger:    discard(),
		LLM:       newMockLLM(nil),
		Querier:   &fakeQuerier{},
		Schema:    &fakeSchema{},
		Templates: emptyTemplates{},
		Prompts:   prompts,
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxAgentSteps, cfg.MaxAgentSteps)
	assert.Equal(t, DefaultMaxSQLRepairs, cfg.MaxSQLRepairs)
	assert.NotNil(t, cfg.Clock)
	assert.NotNil(t, cfg.Location)
}
