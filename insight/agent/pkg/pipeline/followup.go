package pipeline

import (
	"context"
	"strings"
)

// GenerateTopic summarizes the conversation into a short topic.
func (p *Pipeline) GenerateTopic(ctx context.Context, chatHistory string) (string, error) {
	system := render(p.cfg.Prompts.Topic, map[string]string{"CHAT_HISTORY": chatHistory})
	out, err := p.complete(ctx, PurposeTopic, system, "")
	if err != nil {
		return "", err
	}
	return cleanLine(out), nil
}

// RecommendQuestion suggests one follow-up question for the conversation.
func (p *Pipeline) RecommendQuestion(ctx context.Context, chatHistory string) (string, error) {
	system := render(p.cfg.Prompts.Recommend, map[string]string{"CHAT_HISTORY": chatHistory})
	out, err := p.complete(ctx, PurposeRecommend, system, "")
	if err != nil {
		return "", err
	}
	return cleanLine(out), nil
}

// cleanLine keeps the first non-empty line without surrounding quotes or a
// label prefix.
func cleanLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, ":"); i != -1 && i < 20 {
			switch strings.ToLower(strings.TrimSpace(line[:i])) {
			case "topic", "topik", "question", "pertanyaan":
				line = strings.TrimSpace(line[i+1:])
			}
		}
		return strings.Trim(line, "\"'`*")
	}
	return ""
}
