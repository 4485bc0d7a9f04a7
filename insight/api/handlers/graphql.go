package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cfuwib/insightbot/insight/agent/pkg/pipeline"
	"github.com/cfuwib/insightbot/insight/api/metrics"
	graphql "github.com/graph-gophers/graphql-go"
)

const schemaSDL = `
schema {
	query: Query
	subscription: Subscription
}

scalar JSON

type Query {
	getInsight(query: String!, chatHistory: String, requestId: String): Insight!
	getTopic(chatHistory: String!): TextResult!
	getRecommendation(chatHistory: String!): TextResult!
	recognizeIntent(query: String!): Intent!
	greet(query: String!): TextResult!
}

type Subscription {
	progressUpdates(requestId: String!): ProgressUpdate!
	insightStream(requestId: String!): InsightChunk!
}

type Insight {
	output: String!
	chart: String
	chartType: String
	chartLibrary: String
	dataColumns: [String!]!
	dataRows: JSON!
	requestId: String!
	components: Intent!
}

type TextResult {
	output: String!
}

type Intent {
	wantsText: Boolean!
	wantsChart: Boolean!
	wantsTable: Boolean!
	wantsSimplifiedNumbers: Boolean!
}

type ProgressUpdate {
	requestId: String!
	stage: String!
	message: String!
	iteration: Int!
	error: String
	timestamp: String!
}

type InsightChunk {
	requestId: String!
	content: String!
	done: Boolean!
}
`

// JSON is an opaque JSON scalar.
type JSON struct {
	Value any
}

func (JSON) ImplementsGraphQLType(name string) bool { return name == "JSON" }

func (j *JSON) UnmarshalGraphQL(input any) error {
	j.Value = input
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Value)
}

type gqlInsight struct {
	Output       string
	Chart        *string
	ChartType    *string
	ChartLibrary *string
	DataColumns  []string
	DataRows     JSON
	RequestID    string
	Components   *pipeline.Intent
}

type gqlText struct {
	Output string
}

// resolverError carries the HTTP-equivalent status in the GraphQL error
// extensions.
type resolverError struct {
	msg  string
	code int
}

func (e *resolverError) Error() string { return e.msg }

func (e *resolverError) Extensions() map[string]any {
	return map[string]any{"code": e.code}
}

var errQueryRequired = &resolverError{msg: "query is required", code: http.StatusUnprocessableEntity}

type resolver struct {
	h *Handlers
}

// fail logs err and returns it with its HTTP status as the "code" extension.
func (r *resolver) fail(msg string, err error) error {
	return &resolverError{msg: r.h.internalError(msg, err), code: StatusFor(err)}
}

func (r *resolver) GetInsight(ctx context.Context, args struct {
	Query       string
	ChatHistory *string
	RequestID   *string
}) (*gqlInsight, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, errQueryRequired
	}
	resp, err := r.h.runInsight(ctx, query, deref(args.ChatHistory), deref(args.RequestID))
	if err != nil {
		return nil, r.fail("Failed to generate insight", err)
	}
	return &gqlInsight{
		Output:       resp.Output,
		Chart:        resp.Chart,
		ChartType:    resp.ChartType,
		ChartLibrary: resp.ChartLibrary,
		DataColumns:  resp.DataColumns,
		DataRows:     JSON{Value: resp.DataRows},
		RequestID:    resp.RequestID,
		Components:   &resp.Components,
	}, nil
}

func (r *resolver) GetTopic(ctx context.Context, args struct{ ChatHistory string }) (*gqlText, error) {
	out, err := r.h.svc.GenerateTopic(ctx, args.ChatHistory)
	if err != nil {
		return nil, r.fail("Failed to generate topic", err)
	}
	return &gqlText{Output: out}, nil
}

func (r *resolver) GetRecommendation(ctx context.Context, args struct{ ChatHistory string }) (*gqlText, error) {
	out, err := r.h.svc.RecommendQuestion(ctx, args.ChatHistory)
	if err != nil {
		return nil, r.fail("Failed to generate recommendation", err)
	}
	return &gqlText{Output: out}, nil
}

func (r *resolver) RecognizeIntent(ctx context.Context, args struct{ Query string }) (*pipeline.Intent, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, errQueryRequired
	}
	intent := r.h.svc.RecognizeIntent(ctx, query)
	return &intent, nil
}

func (r *resolver) Greet(ctx context.Context, args struct{ Query string }) (*gqlText, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, errQueryRequired
	}
	out, err := r.h.svc.Greet(ctx, query)
	if err != nil {
		return nil, r.fail("Failed to generate greeting", err)
	}
	return &gqlText{Output: out}, nil
}

func (r *resolver) ProgressUpdates(ctx context.Context, args struct{ RequestID string }) <-chan *ProgressUpdate {
	out := make(chan *ProgressUpdate)
	go forward(ctx, r.h.hub, args.RequestID, out, func(ev StreamEvent) (*ProgressUpdate, bool) {
		return ev.Progress, ev.Type == EventProgress
	})
	return out
}

func (r *resolver) InsightStream(ctx context.Context, args struct{ RequestID string }) <-chan *InsightChunk {
	out := make(chan *InsightChunk)
	go forward(ctx, r.h.hub, args.RequestID, out, func(ev StreamEvent) (*InsightChunk, bool) {
		return ev.Chunk, ev.Type == EventChunk
	})
	return out
}

// forward relays the matching hub events for requestID to out until the
// request finishes or ctx is done, then closes out.
func forward[T any](ctx context.Context, hub *StreamHub, requestID string, out chan<- T, pick func(StreamEvent) (T, bool)) {
	defer close(out)
	sub, unsubscribe := hub.Subscribe(requestID)
	defer unsubscribe()
	subscribers := metrics.StreamSubscribers.WithLabelValues(metrics.TransportGraphQL)
	subscribers.Inc()
	defer subscribers.Dec()

	send := func(ev StreamEvent) bool {
		v, ok := pick(ev)
		if !ok {
			return true
		}
		select {
		case out <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events:
			if !send(ev) {
				return
			}
		case <-sub.Done:
			for {
				select {
				case ev := <-sub.Events:
					if !send(ev) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewSchema parses the GraphQL schema bound to h.
func NewSchema(h *Handlers) *graphql.Schema {
	return graphql.MustParseSchema(schemaSDL, &resolver{h: h}, graphql.UseFieldResolvers())
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// GraphQL handles POST /cfu-insight.
func (h *Handlers) GraphQL(schema *graphql.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp := schema.Exec(r.Context(), req.Query, req.OperationName, req.Variables)
		if len(resp.Errors) > 0 {
			h.log.Warn("handlers: graphql errors", "operation", req.OperationName, "errors", len(resp.Errors))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
