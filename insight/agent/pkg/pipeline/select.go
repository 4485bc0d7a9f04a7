package pipeline

import (
	"context"
	"fmt"
)

type selectionResponse struct {
	TableName string `json:"table_name"`
	Prompt    string `json:"prompt"`
}

// Select asks the LLM which table and instruction template fit the question.
// Unparseable output falls back to the first configured table and template.
func (p *Pipeline) Select(ctx context.Context, query string) (Selection, error) {
	system := render(p.cfg.Prompts.Select, map[string]string{
		"TABLES_LIST": p.cfg.Templates.TableList(),
		"PROMPT_LIST": p.cfg.Templates.PromptList(),
		"USER_QUERY":  query,
	})

	raw, err := p.complete(ctx, PurposeSelect, system, "")
	if err != nil {
		return Selection{}, err
	}

	parsed := ParseJSON[selectionResponse](raw, selectionSchema)
	resp := parsed.Value
	if !parsed.Ok() {
		p.logParseError(PurposeSelect, parsed.Err)
		tables, prompts := p.cfg.Templates.Tables(), p.cfg.Templates.Prompts()
		if len(tables) == 0 || len(prompts) == 0 {
			return Selection{}, ErrNoSelection
		}
		resp = selectionResponse{TableName: tables[0].Name, Prompt: prompts[0].Name}
	}

	if !p.hasTable(resp.TableName) {
		return Selection{}, fmt.Errorf("%w: %s", ErrInvalidTable, resp.TableName)
	}

	p.log.Info("pipeline: selected table and prompt", "table", resp.TableName, "prompt", resp.Prompt)
	return Selection{
		TableName:   resp.TableName,
		PromptName:  resp.Prompt,
		Instruction: p.cfg.Templates.GetPromptByName(resp.Prompt),
	}, nil
}

func (p *Pipeline) hasTable(name string) bool {
	for _, t := range p.cfg.Templates.Tables() {
		if t.Name == name {
			return true
		}
	}
	return false
}
