package pipeline

import (
	"fmt"
	"strings"

	"github.com/cfuwib/insightbot/insight/agent/pkg/pipeline/prompts"
)

// Prompts contains all the pipeline prompts loaded from embedded files.
type Prompts struct {
	Select    string // Table and template selection
	Agent     string // Query rewriting for the agent loop
	Generate  string // SQL generation
	Fix       string // SQL repair
	Narrate   string // Insight narration over query rows
	Topic     string // Conversation topic
	Recommend string // Follow-up question
	Intent    string // Output component recognition
	Greeting  string // Greetings and general conversation
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	files := []struct {
		name string
		dst  *string
	}{
		{"SELECT.md", &p.Select},
		{"AGENT.md", &p.Agent},
		{"GENERATE.md", &p.Generate},
		{"FIX.md", &p.Fix},
		{"NARRATE.md", &p.Narrate},
		{"TOPIC.md", &p.Topic},
		{"RECOMMEND.md", &p.Recommend},
		{"INTENT.md", &p.Intent},
		{"GREETING.md", &p.Greeting},
	}
	for _, f := range files {
		text, err := loadPrompt(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", strings.TrimSuffix(f.name, ".md"), err)
		}
		*f.dst = text
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// render substitutes {{KEY}} placeholders in a prompt.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
