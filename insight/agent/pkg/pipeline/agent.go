package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/cfuwib/insightbot/insight/pkg/retry"
)

var errContinue = errors.New("agent: continue")

// AgentStep decides the next action for one turn. A non-empty tools answer is
// final and returned verbatim. Otherwise the LLM rewrites the query into a
// standalone question, falling back to the query itself.
func (p *Pipeline) AgentStep(ctx context.Context, query, chatHistory, toolsAnswer string) AgentState {
	if toolsAnswer != "" {
		return AgentState{Action: ActionFinalAnswer, ActionInput: query, FinalAnswer: toolsAnswer}
	}

	fallback := AgentState{Action: ActionContinue, ActionInput: query}

	system := render(p.cfg.Prompts.Agent, map[string]string{
		"USER_QUERY":   query,
		"CHAT_HISTORY": chatHistory,
	})
	raw, err := p.complete(ctx, PurposeAgent, system, "")
	if err != nil {
		p.log.Warn("pipeline: agent step failed, continuing with query", "error", err)
		return fallback
	}

	parsed := ParseJSON[AgentState](raw, agentStateSchema)
	if !parsed.Ok() {
		p.logParseError(PurposeAgent, parsed.Err)
		return fallback
	}

	state := parsed.Value
	state.Action = ActionContinue
	state.FinalAnswer = ""
	if strings.TrimSpace(state.ActionInput) == "" {
		state.ActionInput = query
	}
	return state
}

type agentInput struct {
	query       string
	chatHistory string
	selection   Selection
	columns     []string
	firstRow    map[string]any
	intent      Intent
}

type agentOutcome struct {
	output     string
	last       *ExecutedQuery
	iterations int
}

// runAgent drives the Continue/Final Answer loop for at most MaxAgentSteps
// iterations. Each Continue generates, executes and narrates one query.
func (p *Pipeline) runAgent(ctx context.Context, in agentInput, notify func(ProgressStage, int, string)) (agentOutcome, error) {
	var (
		out     agentOutcome
		insight string
		query   = in.query
	)

	policy := retry.Immediate(p.cfg.MaxAgentSteps)
	final, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		out.iterations = attempt
		notify(StagePlanning, attempt, "Planning next step")

		state := p.AgentStep(ctx, query, in.chatHistory, insight)
		p.log.Debug("pipeline: agent step", "iteration", attempt, "action", state.Action, "input", state.ActionInput)
		if state.Action == ActionFinalAnswer {
			return state.FinalAnswer, nil
		}
		query = state.ActionInput

		notify(StageGeneratingSQL, attempt, "Generating SQL")
		sql, err := p.GenerateSQL(ctx, in.selection, in.columns, in.firstRow, query)
		if err != nil {
			return "", retry.Permanent(err)
		}

		notify(StageExecuting, attempt, "Executing query")
		executed, err := p.ExecuteWithRepair(ctx, sql, in.columns, func(msg string) {
			notify(StageRepairing, attempt, msg)
		})
		if err != nil {
			return "", retry.Permanent(err)
		}
		out.last = executed

		notify(StageNarrating, attempt, "Writing insight")
		text, err := p.Narrate(ctx, in.selection, in.query, executed, in.intent)
		if err != nil {
			return "", retry.Permanent(err)
		}
		insight = text
		p.log.Info("pipeline: partial insight", "iteration", attempt, "rows", len(executed.Rows), "len", len(text))
		return "", errContinue
	})

	switch {
	case err == nil:
		out.output = final
	case errors.Is(err, retry.ErrExhausted):
		p.log.Warn("pipeline: agent step limit reached, forcing final answer", "max_steps", p.cfg.MaxAgentSteps)
		out.output = insight
	default:
		return agentOutcome{}, err
	}

	if out.output == "" {
		out.output = NoInsightsFallback
	}
	MetricAgentIterations.Observe(float64(out.iterations))
	return out, nil
}
