// Package pipeline answers performance questions by chaining LLM calls around
// SQL execution: select a table and instruction template, rewrite the question,
// generate SQL, execute it with bounded repair, narrate the rows, and optionally
// build a chart.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cfuwib/insightbot/insight/pkg/chart"
	"github.com/jonboulle/clockwork"
)

// Pipeline orchestrates one insight turn.
type Pipeline struct {
	cfg *Config
	log *slog.Logger
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("llm client is required")
	}
	if c.Querier == nil {
		return errors.New("querier is required")
	}
	if c.Schema == nil {
		return errors.New("schema provider is required")
	}
	if c.Templates == nil {
		return errors.New("template provider is required")
	}
	if c.Prompts == nil {
		return errors.New("prompts are required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Location == nil {
		loc, err := time.LoadLocation("Asia/Jakarta")
		if err != nil {
			loc = time.FixedZone("WIB", 7*60*60)
		}
		c.Location = loc
	}
	if c.MaxAgentSteps == 0 {
		c.MaxAgentSteps = DefaultMaxAgentSteps
	}
	if c.MaxSQLRepairs == 0 {
		c.MaxSQLRepairs = DefaultMaxSQLRepairs
	}
	return nil
}

// New creates a new Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// GetInsight runs one user turn to completion.
func (p *Pipeline) GetInsight(ctx context.Context, req InsightRequest, onProgress ProgressCallback) (*InsightResult, error) {
	notify := func(stage ProgressStage, iteration int, msg string) {
		if onProgress != nil {
			onProgress(Progress{Stage: stage, Iteration: iteration, Message: msg})
		}
	}

	res, err := p.getInsight(ctx, req, notify)
	if err != nil {
		MetricInsightTurns.WithLabelValues("error").Inc()
		if onProgress != nil {
			onProgress(Progress{Stage: StageError, Message: err.Error(), Error: err})
		}
		return nil, err
	}

	MetricInsightTurns.WithLabelValues("ok").Inc()
	notify(StageComplete, 0, "Insight ready")
	return res, nil
}

func (p *Pipeline) getInsight(ctx context.Context, req InsightRequest, notify func(ProgressStage, int, string)) (*InsightResult, error) {
	intent := p.RecognizeIntent(ctx, req.Query)

	notify(StageSelecting, 0, "Selecting table and analysis template")
	sel, err := p.Select(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	columns, err := p.cfg.Schema.Columns(ctx, sel.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for %s: %w", sel.TableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, sel.TableName)
	}
	firstRow, err := p.cfg.Schema.SampleRow(ctx, sel.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get sample row for %s: %w", sel.TableName, err)
	}

	loop, err := p.runAgent(ctx, agentInput{
		query:       req.Query,
		chatHistory: req.ChatHistory,
		selection:   sel,
		columns:     columns,
		firstRow:    firstRow,
		intent:      intent,
	}, notify)
	if err != nil {
		return nil, err
	}

	result := &InsightResult{
		Output:     loop.output,
		Intent:     intent,
		TableName:  sel.TableName,
		PromptName: sel.PromptName,
		Iterations: loop.iterations,
		DataRows:   []map[string]any{},
	}
	if loop.last != nil {
		result.SQL = loop.last.SQL
		result.DataRows = loop.last.Rows
		result.DataColumns = loop.last.Columns
	}

	if len(result.DataRows) > 0 && (chart.ShouldGenerateChart(sel.PromptName, req.Query) || intent.WantsChart) {
		notify(StageCharting, 0, "Building chart")
		p.attachChart(result, sel.PromptName)
	}

	return result, nil
}

func (p *Pipeline) attachChart(result *InsightResult, promptName string) {
	chartType := chart.TypeFor(promptName)
	fig := chart.CreateTrendChart(result.DataRows, chartType)
	if fig == nil {
		p.log.Info("pipeline: no chart for rows", "chart_type", chartType, "rows", len(result.DataRows))
		return
	}
	data, err := fig.JSON()
	if err != nil {
		p.log.Warn("pipeline: failed to encode chart", "error", err)
		return
	}
	result.Chart = data
	result.ChartType = string(chartType)
	result.ChartLibrary = chart.Library
	p.log.Info("pipeline: chart generated", "chart_type", chartType)
}

// complete wraps an LLM call with metrics and logging.
func (p *Pipeline) complete(ctx context.Context, purpose Purpose, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	out, err := p.cfg.LLM.Complete(ctx, systemPrompt, userPrompt, WithPurpose(purpose))
	duration := time.Since(start)
	MetricLLMDuration.WithLabelValues(string(purpose)).Observe(duration.Seconds())
	if err != nil {
		MetricLLMCalls.WithLabelValues(string(purpose), "error").Inc()
		p.log.Error("pipeline: llm call failed", "purpose", purpose, "duration", duration, "error", err)
		return "", fmt.Errorf("%w: %s: %w", ErrLLM, purpose, err)
	}
	MetricLLMCalls.WithLabelValues(string(purpose), "ok").Inc()
	p.log.Debug("pipeline: llm call completed", "purpose", purpose, "duration", duration, "len", len(out))
	return out, nil
}

func (p *Pipeline) logParseError(purpose Purpose, perr *ParseError) {
	MetricJSONParseErrors.WithLabelValues(string(purpose)).Inc()
	p.log.Warn("pipeline: invalid llm json, using default", "purpose", purpose, "error", perr.Err, "raw", perr.RawPrefix())
}
