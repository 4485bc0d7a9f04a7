package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cfuwib/insightbot/insight/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCustomLLM(t *testing.T, url string) *CustomLLMClient {
	t.Helper()
	c, err := NewCustomLLMClient(&CustomLLMConfig{
		Logger:     discard(),
		URL:        url,
		Token:      "secret-token",
		MaxRetries: 3,
		RetryWait:  time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestCustomLLMClient_WireContract(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "secret-token", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "SELECT 1"}}]}`))
	}))
	defer srv.Close()

	c := newTestCustomLLM(t, srv.URL)
	out, err := c.Complete(context.Background(), "system text", "", WithPurpose(PurposeGenerate))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)

	assert.Equal(t, defaultCustomLLMModel, got.Model)
	assert.Equal(t, []chatMessage{{Role: "system", Content: "system text"}}, got.Messages)
	assert.Equal(t, int64(10000), got.MaxTokens)
	assert.Zero(t, got.Temperature)
	assert.False(t, got.Stream)
}

func TestCustomLLMClient_UserMessageAndMaxTokensOverride(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestCustomLLM(t, srv.URL)
	_, err := c.Complete(context.Background(), "sys", "user", WithPurpose(PurposeTopic), WithMaxTokens(64))
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, int64(64), got.MaxTokens)
}

func TestCustomLLMClient_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
		exhausted bool
	}{
		{name: "5xx then ok", statuses: []int{502, 200}, wantCalls: 2},
		{name: "429 then ok", statuses: []int{429, 429, 200}, wantCalls: 3},
		{name: "4xx is permanent", statuses: []int{400}, wantCalls: 1, wantErr: true},
		{name: "429 three times then ok", statuses: []int{429, 429, 429, 200}, wantCalls: 4},
		{name: "exhausted after three retries", statuses: []int{500, 500, 500, 500, 500}, wantCalls: 4, wantErr: true, exhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[min(int(n)-1, len(tt.statuses)-1)]
				if status != http.StatusOK {
					http.Error(w, "nope", status)
					return
				}
				_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "done"}}]}`))
			}))
			defer srv.Close()

			c := newTestCustomLLM(t, srv.URL)
			out, err := c.Complete(context.Background(), "sys", "")
			assert.Equal(t, tt.wantCalls, calls.Load())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "done", out)
				return
			}
			require.Error(t, err)
			var serr *StatusError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.exhausted, errors.Is(err, retry.ErrExhausted))
		})
	}
}

func TestCustomLLMClient_NoChoices(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := newTestCustomLLM(t, srv.URL)
	_, err := c.Complete(context.Background(), "sys", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCustomLLMConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.EqualError(t, (&CustomLLMConfig{}).Validate(), "logger is required")
	assert.EqualError(t, (&CustomLLMConfig{Logger: discard()}).Validate(), "llm url is required")
	assert.EqualError(t, (&CustomLLMConfig{Logger: discard(), URL: "http://x"}).Validate(), "llm token is required")

	cfg := &CustomLLMConfig{Logger: discard(), URL: "http://x", Token: "t"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultCustomLLMTimeout, cfg.Timeout)
	assert.Equal(t, defaultCustomLLMMaxRetries, cfg.MaxRetries)
	assert.NotNil(t, cfg.HTTPClient)
}
