package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cfuwib/insightbot/insight/pkg/retry"
)

const (
	defaultCustomLLMModel      = "telkom-ai-instruct"
	defaultCustomLLMTimeout    = 120 * time.Second
	defaultCustomLLMMaxRetries = 3
	defaultCustomLLMRetryWait  = time.Second
	defaultCustomLLMMaxWait    = 10 * time.Second
)

// CustomLLMConfig configures a CustomLLMClient.
type CustomLLMConfig struct {
	Logger     *slog.Logger
	URL        string
	Token      string
	Model      string
	Timeout    time.Duration
	MaxRetries int // Retries after the first attempt (default 3)
	RetryWait  time.Duration
	HTTPClient *http.Client
}

func (c *CustomLLMConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.URL == "" {
		return errors.New("llm url is required")
	}
	if c.Token == "" {
		return errors.New("llm token is required")
	}
	if c.Model == "" {
		c.Model = defaultCustomLLMModel
	}
	if c.Timeout == 0 {
		c.Timeout = defaultCustomLLMTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultCustomLLMMaxRetries
	}
	if c.RetryWait == 0 {
		c.RetryWait = defaultCustomLLMRetryWait
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return nil
}

// CustomLLMClient implements LLMClient against a chat-completion style endpoint
// authenticated with an x-api-key header.
type CustomLLMClient struct {
	cfg *CustomLLMConfig
	log *slog.Logger
}

// NewCustomLLMClient creates a new CustomLLMClient.
func NewCustomLLMClient(cfg *CustomLLMConfig) (*CustomLLMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CustomLLMClient{cfg: cfg, log: cfg.Logger}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int64         `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// StatusError is a non-2xx response from the LLM endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Complete posts the prompt and returns choices[0].message.content. Transport
// errors, 429 and 5xx are retried with exponential backoff.
func (c *CustomLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	o := ApplyCompleteOptions(opts...)

	messages := []chatMessage{{Role: "system", Content: systemPrompt}}
	if userPrompt != "" {
		messages = append(messages, chatMessage{Role: "user", Content: userPrompt})
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   o.MaxTokens,
		Temperature: 0,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	policy := retry.Exponential(c.cfg.MaxRetries+1, c.cfg.RetryWait, defaultCustomLLMMaxWait)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("llm: request failed, retrying", "purpose", o.Purpose, "attempt", attempt, "delay", delay, "error", err)
	}

	return retry.Do(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		return c.post(ctx, body)
	})
}

func (c *CustomLLMClient) post(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.Token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 500)}
		if serr.retryable() {
			return "", serr
		}
		return "", retry.Permanent(serr)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", retry.Permanent(errors.New("response has no choices"))
	}
	return parsed.Choices[0].Message.Content, nil
}

// truncate cuts s to at most n runes, ending with "..." when shortened.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}
