// Package handlers exposes the insight pipeline over REST, SSE and GraphQL.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cfuwib/insightbot/insight/agent/pkg/pipeline"
	"github.com/cfuwib/insightbot/insight/api/metrics"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	defaultWorkers           = 1
	defaultStreamTTL         = 15 * time.Minute
	defaultHeartbeatInterval = 15 * time.Second
)

// Service is the pipeline surface used by the handlers.
type Service interface {
	GetInsight(ctx context.Context, req pipeline.InsightRequest, onProgress pipeline.ProgressCallback) (*pipeline.InsightResult, error)
	GenerateTopic(ctx context.Context, chatHistory string) (string, error)
	RecommendQuestion(ctx context.Context, chatHistory string) (string, error)
	RecognizeIntent(ctx context.Context, query string) pipeline.Intent
	Greet(ctx context.Context, query string) (string, error)
}

type Config struct {
	Logger            *slog.Logger
	Service           Service
	APIKey            string
	Workers           int
	StreamTTL         time.Duration
	HeartbeatInterval time.Duration
	Clock             clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Service == nil {
		return errors.New("service is required")
	}
	if c.APIKey == "" {
		return errors.New("api key is required")
	}
	if c.Workers < 1 {
		c.Workers = defaultWorkers
	}
	if c.StreamTTL == 0 {
		c.StreamTTL = defaultStreamTTL
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handlers serves the insight API.
type Handlers struct {
	cfg  *Config
	log  *slog.Logger
	svc  Service
	hub  *StreamHub
	pool pond.ResultPool[*pipeline.InsightResult]
}

func New(cfg *Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{
		cfg:  cfg,
		log:  cfg.Logger,
		svc:  cfg.Service,
		hub:  NewStreamHub(cfg.Logger, cfg.Clock, cfg.StreamTTL),
		pool: pond.NewResultPool[*pipeline.InsightResult](cfg.Workers),
	}, nil
}

// Close waits for running insight turns and releases retained streams.
func (h *Handlers) Close() {
	h.pool.StopAndWait()
	h.hub.Close()
}

// Hub returns the progress hub.
func (h *Handlers) Hub() *StreamHub { return h.hub }

// InsightResponse is the answer to one insight turn.
type InsightResponse struct {
	Output       string           `json:"output"`
	Chart        *string          `json:"chart"`
	ChartType    *string          `json:"chart_type"`
	ChartLibrary *string          `json:"chart_library"`
	DataColumns  []string         `json:"data_columns"`
	DataRows     []map[string]any `json:"data_rows"`
	RequestID    string           `json:"request_id"`
	Components   pipeline.Intent  `json:"components"`
}

func newInsightResponse(requestID string, res *pipeline.InsightResult) *InsightResponse {
	resp := &InsightResponse{
		Output:      res.Output,
		DataColumns: res.DataColumns,
		DataRows:    res.DataRows,
		RequestID:   requestID,
		Components:  res.Intent,
	}
	if resp.DataColumns == nil {
		resp.DataColumns = []string{}
	}
	if resp.DataRows == nil {
		resp.DataRows = []map[string]any{}
	}
	if res.Chart != "" {
		resp.Chart = &res.Chart
		resp.ChartType = &res.ChartType
		resp.ChartLibrary = &res.ChartLibrary
	}
	return resp
}

// runInsight executes one turn on the worker pool and publishes its progress
// and final text under requestID.
func (h *Handlers) runInsight(ctx context.Context, query, chatHistory, requestID string) (*InsightResponse, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	defer h.hub.Finish(requestID)

	h.log.Info("handlers: insight requested", "request_id", requestID, "query_len", len(query))
	start := time.Now()

	onProgress := func(p pipeline.Progress) {
		h.hub.PublishProgress(requestID, p)
	}

	group := h.pool.NewGroupContext(ctx)
	group.SubmitErr(func() (*pipeline.InsightResult, error) {
		return h.svc.GetInsight(ctx, pipeline.InsightRequest{Query: query, ChatHistory: chatHistory}, onProgress)
	})
	results, err := group.Wait()
	if err != nil {
		metrics.ObserveInsight(StatusFor(err), 0)
		h.log.Error("handlers: insight failed", "request_id", requestID, "duration", time.Since(start), "error", err)
		return nil, err
	}

	res := results[0]
	metrics.ObserveInsight(http.StatusOK, len(res.DataRows))
	h.hub.PublishInsight(requestID, res.Output)
	h.log.Info("handlers: insight completed", "request_id", requestID, "duration", time.Since(start),
		"iterations", res.Iterations, "rows", len(res.DataRows), "chart", res.ChartType)
	return newInsightResponse(requestID, res), nil
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidTable):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoSelection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// internalError logs err and returns the message shown to clients.
func (h *Handlers) internalError(msg string, err error) string {
	h.log.Error("handlers: "+msg, "error", err)
	return fmt.Sprintf("%s: %v", msg, err)
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("handlers: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
