package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
)

// User-facing messages.
const (
	MsgEmptyQuery   = "Mohon masukkan pertanyaan yang valid."
	MsgProcessing   = "Sedang memproses permintaan Anda..."
	MsgReformatting = "Memformat ulang data..."
	msgBadResponse  = "Maaf, terjadi kesalahan pada format respons."
)

// Starter is a suggested first question.
type Starter struct {
	Label   string
	Message string
}

// Starters are shown on an empty conversation.
var Starters = []Starter{
	{Label: "Bagaimana performansi unit CFU WIB?", Message: "Bagaimana performansi unit CFU WIB pada periode Juli 2025?"},
	{Label: "Tunjukkan tren Revenue unit DWS.", Message: "Bagaimana trend Revenue unit DWS untuk periode Januari 2025 sampai Juli 2025?"},
	{Label: "Produk apa saja yang tidak tercapai?", Message: "Produk apa yang tidak tercapai pada unit WINS?"},
	{Label: "Mengapa EBITDA tercapai?", Message: "Mengapa performansi EBITDA unit TELIN tercapai?"},
}

var greetings = []string{"halo", "hallo", "hai", "hi", "hello", "selamat pagi", "selamat siang", "selamat sore", "selamat malam", "siapa kamu", "terima kasih"}

// API is the insight API surface used by the processor.
type API interface {
	Insight(ctx context.Context, query, chatHistory, requestID string) (*InsightResponse, error)
	Topic(ctx context.Context, chatHistory string) (string, error)
	Recommendation(ctx context.Context, chatHistory string) (string, error)
	Greeting(ctx context.Context, query string) (string, error)
}

// ProgressSource streams progress for a request id.
type ProgressSource interface {
	Watch(ctx context.Context, requestID string, fn func(ProgressUpdate)) error
}

// Reply is the rendered answer to one message.
type Reply struct {
	Content        string
	Chart          string // plotly figure JSON, empty when there is none
	Topic          string // set only when the conversation topic changed
	Recommendation string
}

type ProcessorConfig struct {
	Logger   *slog.Logger
	API      API
	Progress ProgressSource
	Sessions *Manager
}

func (c *ProcessorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.API == nil {
		return errors.New("api is required")
	}
	if c.Sessions == nil {
		return errors.New("session manager is required")
	}
	return nil
}

// Processor handles chat messages for many sessions.
type Processor struct {
	cfg  *ProcessorConfig
	log  *slog.Logger
	pool pond.ResultPool[string]
}

func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		cfg:  cfg,
		log:  cfg.Logger,
		pool: pond.NewResultPool[string](4),
	}, nil
}

func (p *Processor) Close() {
	p.pool.StopAndWait()
}

// HandleMessage answers text within session sessionID. onStatus receives
// interim status lines and may be called from another goroutine.
func (p *Processor) HandleMessage(ctx context.Context, sessionID, text string, onStatus func(string)) *Reply {
	if onStatus == nil {
		onStatus = func(string) {}
	}
	query := strings.TrimSpace(text)
	if query == "" {
		return &Reply{Content: MsgEmptyQuery}
	}
	session := p.cfg.Sessions.Get(sessionID)

	if last := session.LastResponse(); last != nil && IsFormatRequest(query) {
		onStatus(MsgReformatting)
		return p.render(last, FormatNumberSimplified)
	}

	if isGreeting(query) {
		if out, err := p.cfg.API.Greeting(ctx, query); err == nil && out != "" {
			session.AddToHistory(query, out)
			return &Reply{Content: out}
		}
	}

	onStatus(MsgProcessing)
	requestID := uuid.NewString()
	stopWatching := p.watchProgress(ctx, requestID, onStatus)
	resp, err := p.cfg.API.Insight(ctx, query, session.HistoryString(InsightHistoryTurns), requestID)
	stopWatching()
	if err != nil {
		p.log.Error("chat: insight request failed", "conversation_id", session.ConversationID, "error", err)
		return &Reply{Content: fmt.Sprintf("❌ Terjadi error saat memproses permintaan.\n\n**Error:** %v", err)}
	}
	session.SetLastResponse(resp)

	reply := p.render(resp, nil)
	session.AddToHistory(query, answerText(resp))

	topic, rec := p.followUps(ctx, session.HistoryString(FollowUpHistoryTurns))
	if session.SetTopic(topic) {
		reply.Topic = session.Topic()
	}
	reply.Recommendation = strings.TrimSpace(rec)
	return reply
}

func (p *Processor) watchProgress(ctx context.Context, requestID string, onStatus func(string)) func() {
	if p.cfg.Progress == nil {
		return func() {}
	}
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := p.cfg.Progress.Watch(watchCtx, requestID, func(u ProgressUpdate) {
			if u.Message != "" {
				onStatus(u.Message)
			}
		})
		if err != nil && watchCtx.Err() == nil {
			p.log.Debug("chat: progress stream ended", "request_id", requestID, "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// followUps fetches the topic and a recommended question concurrently.
// Failures yield empty strings.
func (p *Processor) followUps(ctx context.Context, history string) (string, string) {
	group := p.pool.NewGroupContext(ctx)
	group.SubmitErr(func() (string, error) {
		topic, err := p.cfg.API.Topic(ctx, history)
		if err != nil {
			p.log.Debug("chat: topic request failed", "error", err)
			return "", nil
		}
		return topic, nil
	})
	group.SubmitErr(func() (string, error) {
		rec, err := p.cfg.API.Recommendation(ctx, history)
		if err != nil {
			p.log.Debug("chat: recommendation request failed", "error", err)
			return "", nil
		}
		return rec, nil
	})
	results, err := group.Wait()
	if err != nil || len(results) != 2 {
		return "", ""
	}
	return results[0], results[1]
}

// render builds the message body: the data table (if any) above the answer,
// plus the chart when the response carries a valid plotly figure.
func (p *Processor) render(resp *InsightResponse, format NumberFormatter) *Reply {
	answer := answerText(resp)
	if format != nil {
		answer = FormatInsightText(answer, format)
	}

	var content strings.Builder
	if table := RowsToMarkdownTable(resp.DataRows, resp.DataColumns, format); table != "" {
		content.WriteString(table)
		content.WriteString("\n\n")
	}
	content.WriteString(answer)

	reply := &Reply{}
	if deref(resp.ChartLibrary) == "plotly" && deref(resp.Chart) != "" {
		chart := deref(resp.Chart)
		if json.Valid([]byte(chart)) {
			reply.Chart = chart
		} else {
			content.WriteString("\n\n---\n*❌ Gagal menampilkan grafik: invalid figure JSON*")
		}
	}
	reply.Content = content.String()
	return reply
}

func answerText(resp *InsightResponse) string {
	if resp.Output == "" {
		return msgBadResponse
	}
	return resp.Output
}

// isGreeting reports whether query is short small talk.
func isGreeting(query string) bool {
	q := strings.ToLower(strings.TrimFunc(query, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
	if len(strings.Fields(q)) > 4 {
		return false
	}
	for _, g := range greetings {
		if q == g || strings.HasPrefix(q, g+" ") {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
