package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicDefaultInstruction = "Follow the instructions above and respond."
	defaultAnthropicModel       = "claude-sonnet-4-5"
	defaultAnthropicTimeout     = 120 * time.Second
	defaultAnthropicMaxRetries  = 3
)

// AnthropicLLMConfig configures an AnthropicLLMClient.
type AnthropicLLMConfig struct {
	Logger *slog.Logger
	Model  anthropic.Model
	APIKey string // Falls back to ANTHROPIC_API_KEY when empty
	// BaseURL overrides the API endpoint (falls back to ANTHROPIC_BASE_URL).
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

func (c *AnthropicLLMConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Model == "" {
		c.Model = defaultAnthropicModel
	}
	if c.Timeout == 0 {
		c.Timeout = defaultAnthropicTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultAnthropicMaxRetries
	}
	return nil
}

// AnthropicLLMClient implements LLMClient using the Anthropic API.
type AnthropicLLMClient struct {
	log    *slog.Logger
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicLLMClient creates a new Anthropic-based LLM client. The request
// timeout must be set for the SDK to accept non-streaming calls with the
// narrate token budget.
func NewAnthropicLLMClient(cfg *AnthropicLLMConfig) (*AnthropicLLMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicLLMClient{
		log:    cfg.Logger,
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Complete sends a prompt to Claude and returns the response text.
func (c *AnthropicLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	o := ApplyCompleteOptions(opts...)
	if userPrompt == "" {
		userPrompt = anthropicDefaultInstruction
	}

	start := time.Now()
	c.log.Debug("llm: anthropic call starting", "model", c.model, "purpose", o.Purpose, "maxTokens", o.MaxTokens)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   o.MaxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	duration := time.Since(start)
	if err != nil {
		c.log.Error("llm: anthropic call failed", "purpose", o.Purpose, "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.log.Debug("llm: anthropic call completed", "duration", duration, "stopReason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no text content in response")
}
