package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cfuwib/insightbot/insight/pkg/retry"
)

// ExecuteWithRepair runs sql. An empty result gets one LLM patch executed
// once. An execution error gets up to MaxSQLRepairs patch-and-execute attempts,
// each patch built from the last failing SQL and its error.
func (p *Pipeline) ExecuteWithRepair(ctx context.Context, sql string, columns []string, onRepair func(string)) (*ExecutedQuery, error) {
	if onRepair == nil {
		onRepair = func(string) {}
	}

	res, err := p.cfg.Querier.Query(ctx, sql)
	if err == nil {
		p.log.Info("pipeline: query executed", "rows", res.Count())
		if res.Count() > 0 {
			return &ExecutedQuery{SQL: sql, Columns: res.Columns, Rows: res.Rows}, nil
		}

		p.log.Warn("pipeline: query returned no rows, attempting fix")
		onRepair("Query returned no rows, repairing SQL")
		MetricSQLRepairs.WithLabelValues("empty").Inc()
		fixed, ferr := p.FixSQL(ctx, columns, sql, noDataFixMessage)
		if ferr != nil {
			return nil, ferr
		}
		res, err = p.cfg.Querier.Query(ctx, fixed)
		if err == nil {
			p.log.Info("pipeline: fixed empty result", "rows", res.Count())
			return &ExecutedQuery{SQL: fixed, Columns: res.Columns, Rows: res.Rows, Repairs: 1}, nil
		}
		sql = fixed
	}

	return p.repairFailed(ctx, sql, err, columns, onRepair)
}

func (p *Pipeline) repairFailed(ctx context.Context, sql string, execErr error, columns []string, onRepair func(string)) (*ExecutedQuery, error) {
	lastSQL, lastErr := sql, execErr
	p.log.Warn("pipeline: sql error, attempting fix", "error", execErr)

	policy := retry.Immediate(p.cfg.MaxSQLRepairs)
	executed, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*ExecutedQuery, error) {
		onRepair(fmt.Sprintf("Repairing SQL (attempt %d of %d)", attempt, p.cfg.MaxSQLRepairs))
		MetricSQLRepairs.WithLabelValues("error").Inc()

		fixed, err := p.FixSQL(ctx, columns, lastSQL, lastErr.Error())
		if err != nil {
			return nil, retry.Permanent(err)
		}
		res, err := p.cfg.Querier.Query(ctx, fixed)
		if err != nil {
			p.log.Warn("pipeline: repaired sql failed", "attempt", attempt, "error", err)
			lastSQL, lastErr = fixed, err
			return nil, err
		}
		p.log.Info("pipeline: repaired sql executed", "attempt", attempt, "rows", res.Count())
		return &ExecutedQuery{SQL: fixed, Columns: res.Columns, Rows: res.Rows, Repairs: attempt}, nil
	})
	if err == nil {
		return executed, nil
	}
	if errors.Is(err, retry.ErrExhausted) {
		p.log.Error("pipeline: sql execution failed after retries", "error", lastErr)
		return nil, fmt.Errorf("%w: %w", ErrSQLExecution, lastErr)
	}
	return nil, err
}

// FixSQL asks the LLM to correct badSQL given errMsg.
func (p *Pipeline) FixSQL(ctx context.Context, columns []string, badSQL, errMsg string) (string, error) {
	system := render(p.cfg.Prompts.Fix, map[string]string{
		"COLUMNS_LIST":  strings.Join(columns, ", "),
		"ERROR_SQL":     badSQL,
		"ERROR_MESSAGE": errMsg,
	})
	raw, err := p.complete(ctx, PurposeFix, system, "")
	if err != nil {
		return "", err
	}
	fixed := cleanSQL(raw)
	if fixed == "" {
		return badSQL, nil
	}
	p.log.Info("pipeline: fixed sql", "sql", fixed)
	return fixed, nil
}
