package pipeline

import "context"

// RecognizeIntent classifies which output components the user wants. Any
// failure yields DefaultIntent.
func (p *Pipeline) RecognizeIntent(ctx context.Context, query string) Intent {
	system := render(p.cfg.Prompts.Intent, map[string]string{"USER_QUERY": query})
	raw, err := p.complete(ctx, PurposeIntent, system, "")
	if err != nil {
		p.log.Warn("pipeline: intent recognition failed, using defaults", "error", err)
		return DefaultIntent()
	}

	parsed := ParseJSON[Intent](raw, intentSchema)
	if !parsed.Ok() {
		p.logParseError(PurposeIntent, parsed.Err)
		return DefaultIntent()
	}
	p.log.Debug("pipeline: intent recognized", "intent", parsed.Value)
	return parsed.Value
}
