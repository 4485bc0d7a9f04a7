package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cfuwib/insightbot/insight/pkg/retry"
)

const (
	retryInitialWait = time.Second
	retryMaxWait     = 10 * time.Second
	retryMultiplier  = 1.5
	apiKeyHeader     = "x-api-key"
)

// InsightResponse mirrors the insight endpoint response.
type InsightResponse struct {
	Output       string           `json:"output"`
	Chart        *string          `json:"chart"`
	ChartType    *string          `json:"chart_type"`
	ChartLibrary *string          `json:"chart_library"`
	DataColumns  []string         `json:"data_columns"`
	DataRows     []map[string]any `json:"data_rows"`
	RequestID    string           `json:"request_id"`
	Error        string           `json:"error,omitempty"`
}

type textResponse struct {
	Output string `json:"output"`
}

// HTTPError is a non-2xx response from the API.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// APIClient calls the insight API endpoints with bounded retries.
type APIClient struct {
	log        *slog.Logger
	cfg        *Config
	httpClient *http.Client
	retryWait  time.Duration
}

func NewAPIClient(log *slog.Logger, cfg *Config) *APIClient {
	return &APIClient{
		log:        log,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		retryWait:  retryInitialWait,
	}
}

// Insight requests an insight for query.
func (c *APIClient) Insight(ctx context.Context, query, chatHistory, requestID string) (*InsightResponse, error) {
	var resp InsightResponse
	payload := map[string]string{"query": query, "chat_history": chatHistory, "request_id": requestID}
	if err := c.postJSON(ctx, c.cfg.APIURL, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("api error: %s", resp.Error)
	}
	return &resp, nil
}

// Topic summarises the conversation.
func (c *APIClient) Topic(ctx context.Context, chatHistory string) (string, error) {
	return c.text(ctx, c.cfg.TopicAPIURL, map[string]string{"chat_history": chatHistory})
}

// Recommendation suggests a follow-up question.
func (c *APIClient) Recommendation(ctx context.Context, chatHistory string) (string, error) {
	return c.text(ctx, c.cfg.RecAPIURL, map[string]string{"chat_history": chatHistory})
}

// Greeting answers small talk.
func (c *APIClient) Greeting(ctx context.Context, query string) (string, error) {
	return c.text(ctx, c.cfg.GreetingAPIURL, map[string]string{"query": query})
}

func (c *APIClient) text(ctx context.Context, url string, payload any) (string, error) {
	var resp textResponse
	if err := c.postJSON(ctx, url, payload, &resp); err != nil {
		return "", err
	}
	return resp.Output, nil
}

func (c *APIClient) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:     c.cfg.MaxRetries,
		InitialInterval: c.retryWait,
		MaxInterval:     retryMaxWait,
		Multiplier:      retryMultiplier,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.log.Debug("chat: api request failed, retrying", "url", url, "attempt", attempt, "delay", delay, "error", err)
		},
	}
	data, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) ([]byte, error) {
		return c.post(ctx, url, body)
	})
	if err != nil {
		c.log.Warn("chat: api request failed", "url", url, "error", err)
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *APIClient) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
