package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultMaxAgentSteps bounds the number of generate/execute/narrate rounds.
	DefaultMaxAgentSteps = 3
	// DefaultMaxSQLRepairs bounds repair executions after a failing query.
	DefaultMaxSQLRepairs = 3

	// NoInsightsFallback is the answer when the loop ends without a narrative.
	NoInsightsFallback = "No insights available."

	noDataFixMessage = "No data found for the given query. Fix the SQL query."
)

// Config holds the configuration for the pipeline.
type Config struct {
	Logger        *slog.Logger
	LLM           LLMClient
	Querier       Querier
	Schema        SchemaProvider
	Templates     TemplateProvider
	Prompts       *Prompts
	Clock         clockwork.Clock
	Location      *time.Location // Timezone for greetings (default Asia/Jakarta)
	MaxAgentSteps int            // Max agent iterations (default 3)
	MaxSQLRepairs int            // Max repair executions after an SQL error (default 3)
}

// Purpose identifies what an LLM call is for. It selects the default token
// budget and labels metrics.
type Purpose string

const (
	PurposeSelect    Purpose = "select"
	PurposeAgent     Purpose = "agent"
	PurposeGenerate  Purpose = "generate"
	PurposeFix       Purpose = "fix"
	PurposeNarrate   Purpose = "narrate"
	PurposeTopic     Purpose = "topic"
	PurposeRecommend Purpose = "recommend"
	PurposeGreeting  Purpose = "greeting"
	PurposeIntent    Purpose = "intent"
)

// MaxTokens returns the token budget for the purpose.
func (p Purpose) MaxTokens() int64 {
	switch p {
	case PurposeSelect, PurposeGreeting:
		return 2000
	case PurposeGenerate:
		return 10000
	case PurposeNarrate:
		return 28000
	case PurposeFix:
		return 5000
	case PurposeAgent:
		return 4000
	case PurposeTopic:
		return 128
	case PurposeRecommend:
		return 256
	case PurposeIntent:
		return 512
	default:
		return 2000
	}
}

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	Purpose   Purpose
	MaxTokens int64
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithPurpose labels the call and applies the purpose's token budget.
func WithPurpose(p Purpose) CompleteOption {
	return func(o *CompleteOptions) {
		o.Purpose = p
		o.MaxTokens = p.MaxTokens()
	}
}

// WithMaxTokens overrides the token budget.
func WithMaxTokens(n int64) CompleteOption {
	return func(o *CompleteOptions) {
		o.MaxTokens = n
	}
}

// ApplyCompleteOptions resolves options over the defaults.
func ApplyCompleteOptions(opts ...CompleteOption) CompleteOptions {
	o := CompleteOptions{Purpose: "unspecified", MaxTokens: 2000}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// Querier executes SQL queries.
type Querier interface {
	Query(ctx context.Context, sql string) (store.Result, error)
}

// SchemaProvider describes tables for SQL generation.
type SchemaProvider interface {
	Columns(ctx context.Context, table string) ([]string, error)
	SampleRow(ctx context.Context, table string) (map[string]any, error)
}

// TemplateProvider gives access to the table and instruction catalog.
type TemplateProvider interface {
	GetPromptByName(name string) string
	Tables() []templates.Table
	Prompts() []templates.Prompt
	TableList() string
	PromptList() string
}

// Selection is the table and instruction template chosen for a question.
type Selection struct {
	TableName   string
	PromptName  string
	Instruction string
}

// AgentAction is the controller's decision for one step.
type AgentAction string

const (
	ActionContinue    AgentAction = "Continue"
	ActionFinalAnswer AgentAction = "Final Answer"
)

// AgentState is the controller output for one step.
type AgentState struct {
	Action      AgentAction `json:"action"`
	ActionInput string      `json:"action_input"`
	FinalAnswer string      `json:"final_answer"`
}

// Intent is which output components the user wants.
type Intent struct {
	WantsText              bool `json:"wants_text"`
	WantsChart             bool `json:"wants_chart"`
	WantsTable             bool `json:"wants_table"`
	WantsSimplifiedNumbers bool `json:"wants_simplified_numbers"`
}

// DefaultIntent is used when intent recognition fails.
func DefaultIntent() Intent {
	return Intent{WantsText: true, WantsChart: false, WantsTable: true, WantsSimplifiedNumbers: true}
}

// ExecutedQuery is the final SQL of a step and its rows.
type ExecutedQuery struct {
	SQL     string
	Columns []string
	Rows    []map[string]any
	Repairs int
}

// ProgressStage represents a stage in the pipeline execution.
type ProgressStage string

const (
	StageSelecting     ProgressStage = "selecting"
	StagePlanning      ProgressStage = "planning"
	StageGeneratingSQL ProgressStage = "generating_sql"
	StageExecuting     ProgressStage = "executing"
	StageRepairing     ProgressStage = "repairing"
	StageNarrating     ProgressStage = "narrating"
	StageCharting      ProgressStage = "charting"
	StageComplete      ProgressStage = "complete"
	StageError         ProgressStage = "error"
)

// Progress represents the current state of pipeline execution.
type Progress struct {
	Stage     ProgressStage
	Message   string
	Iteration int   // 1-indexed agent iteration, 0 outside the loop
	Error     error // Set if an error occurred
}

// ProgressCallback is called at each stage of pipeline execution.
type ProgressCallback func(Progress)

// InsightRequest is one user turn.
type InsightRequest struct {
	Query       string
	ChatHistory string
}

// InsightResult is the answer to one user turn.
type InsightResult struct {
	Output       string
	Chart        string
	ChartType    string
	ChartLibrary string
	DataColumns  []string
	DataRows     []map[string]any
	Intent       Intent

	TableName  string
	PromptName string
	SQL        string
	Iterations int
}
