package pipeline

import (
	"context"
	"strings"
	"time"
)

// Greeting returns the Indonesian greeting for the hour of t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 11:
		return "Selamat pagi"
	case h < 15:
		return "Selamat siang"
	case h < 18:
		return "Selamat sore"
	default:
		return "Selamat malam"
	}
}

// Greet answers greetings and general questions about the assistant.
func (p *Pipeline) Greet(ctx context.Context, query string) (string, error) {
	now := p.cfg.Clock.Now().In(p.cfg.Location)
	system := render(p.cfg.Prompts.Greeting, map[string]string{
		"CURRENT_TIME": now.Format("15:04 MST, Monday 2 January 2006"),
		"GREETING":     Greeting(now),
		"USER_QUERY":   query,
	})
	out, err := p.complete(ctx, PurposeGreeting, system, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
