package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var errNoSuchTable = errors.New("no such table: nope")

// mockLLMClient replays scripted responses per purpose. The last response for
// a purpose repeats once the queue is drained.
type mockLLMClient struct {
	mu        sync.Mutex
	responses map[Purpose][]mockResponse
	calls     []mockCall
}

type mockResponse struct {
	text string
	err  error
}

type mockCall struct {
	purpose   Purpose
	system    string
	maxTokens int64
}

func newMockLLM(responses map[Purpose][]mockResponse) *mockLLMClient {
	if responses == nil {
		responses = map[Purpose][]mockResponse{}
	}
	return &mockLLMClient{responses: responses}
}

func (m *mockLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	o := ApplyCompleteOptions(opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{purpose: o.Purpose, system: systemPrompt, maxTokens: o.MaxTokens})

	queue := m.responses[o.Purpose]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for %s", o.Purpose)
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[o.Purpose] = queue[1:]
	}
	return resp.text, resp.err
}

func (m *mockLLMClient) count(p Purpose) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.purpose == p {
			n++
		}
	}
	return n
}

func (m *mockLLMClient) lastSystem(p Purpose) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].purpose == p {
			return m.calls[i].system
		}
	}
	return ""
}

func text(s string) mockResponse { return mockResponse{text: s} }

// fakeQuerier answers known SQL and fails everything else.
type fakeQuerier struct {
	mu      sync.Mutex
	results map[string]store.Result
	queries []string
}

func (q *fakeQuerier) Query(ctx context.Context, sql string) (store.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, sql)
	res, ok := q.results[sql]
	if !ok {
		return store.Result{}, errNoSuchTable
	}
	return res, nil
}

type fakeSchema struct {
	columns []string
	sample  map[string]any
	err     error
}

func (s *fakeSchema) Columns(ctx context.Context, table string) ([]string, error) {
	return s.columns, s.err
}

func (s *fakeSchema) SampleRow(ctx context.Context, table string) (map[string]any, error) {
	return s.sample, s.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var wib = time.FixedZone("WIB", 7*60*60)

func newTestPipeline(t *testing.T, llm LLMClient, q Querier) *Pipeline {
	t.Helper()

	tmpl, err := templates.Load(discard())
	require.NoError(t, err)
	prompts, err := LoadPrompts()
	require.NoError(t, err)

	p, err := New(&Config{
		Logger:  discard(),
		LLM:     llm,
		Querier: q,
		Schema: &fakeSchema{
			columns: []string{"period", "div", "l2", "month_to_date_actual"},
			sample:  map[string]any{"period": int64(202501), "div": "DWS", "l2": "REVENUE", "month_to_date_actual": 100.5},
		},
		Templates: tmpl,
		Prompts:   prompts,
		Clock:     clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 9, 30, 0, 0, wib)),
		Location:  wib,
	})
	require.NoError(t, err)
	return p
}

func revenueRows() store.Result {
	return store.Result{
		Columns: []string{"period", "unit_name", "metric_type", "actual_mtd"},
		Rows: []map[string]any{
			{"period": int64(202501), "unit_name": "DWS", "metric_type": "REVENUE", "actual_mtd": 100.0},
			{"period": int64(202502), "unit_name": "DWS", "metric_type": "REVENUE", "actual_mtd": 120.0},
		},
	}
}
