package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cfuwib/insightbot/insight/agent/pkg/pipeline"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
)

const (
	defaultChunkSize     = 80
	subscriberBufferSize = 256
)

// Stream event types.
const (
	EventProgress = "progress"
	EventChunk    = "chunk"
)

// ProgressUpdate is one pipeline stage transition for a request.
type ProgressUpdate struct {
	RequestID string  `json:"request_id"`
	Stage     string  `json:"stage"`
	Message   string  `json:"message"`
	Iteration int32   `json:"iteration"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
}

// InsightChunk is a piece of the final insight text. The last chunk of a
// request has Done set and no content.
type InsightChunk struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
}

// StreamEvent is either a progress update or an insight chunk.
type StreamEvent struct {
	Type     string
	Progress *ProgressUpdate
	Chunk    *InsightChunk
}

// Subscriber receives the events of one request. Done is closed once the
// request has finished and every event has been delivered to Events, or
// after the subscriber is detached.
type Subscriber struct {
	Events chan StreamEvent
	Done   chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

func (s *Subscriber) detach() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// requestStream keeps every event of a request. Each subscriber is fed from
// the history by its own goroutine, which blocks instead of dropping events
// when the subscriber reads slowly.
type requestStream struct {
	id      string
	mu      sync.Mutex
	history []StreamEvent
	done    bool
	changed chan struct{} // closed and replaced whenever history or done changes
}

func newRequestStream(id string) *requestStream {
	return &requestStream{id: id, changed: make(chan struct{})}
}

func (rs *requestStream) publish(log *slog.Logger, event StreamEvent) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done {
		log.Debug("hub: dropping event for finished request", "request_id", rs.id, "event_type", event.Type)
		return
	}
	rs.history = append(rs.history, event)
	close(rs.changed)
	rs.changed = make(chan struct{})
}

func (rs *requestStream) subscribe() *Subscriber {
	sub := &Subscriber{
		Events: make(chan StreamEvent, subscriberBufferSize),
		Done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go rs.feed(sub)
	return sub
}

// feed delivers history to sub in order, then waits for more until the
// request finishes or sub is detached.
func (rs *requestStream) feed(sub *Subscriber) {
	defer close(sub.Done)
	next := 0
	for {
		rs.mu.Lock()
		pending := rs.history[next:]
		done := rs.done
		changed := rs.changed
		rs.mu.Unlock()

		for _, event := range pending {
			select {
			case sub.Events <- event:
				next++
			case <-sub.stop:
				return
			}
		}
		if len(pending) > 0 {
			continue
		}
		if done {
			return
		}
		select {
		case <-changed:
		case <-sub.stop:
			return
		}
	}
}

func (rs *requestStream) finish() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done {
		return
	}
	rs.done = true
	close(rs.changed)
	rs.changed = make(chan struct{})
}

// StreamHub fans out progress and insight events per request id. Finished
// streams are kept for a TTL so subscribers that connect late still get the
// full replay.
type StreamHub struct {
	log       *slog.Logger
	clock     clockwork.Clock
	chunkSize int

	mu      sync.Mutex
	streams *ttlcache.Cache[string, *requestStream]
}

// NewStreamHub creates a hub retaining streams for ttl after their last use.
func NewStreamHub(log *slog.Logger, clock clockwork.Clock, ttl time.Duration) *StreamHub {
	streams := ttlcache.New(
		ttlcache.WithTTL[string, *requestStream](ttl),
	)
	streams.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *requestStream]) {
		item.Value().finish()
	})
	go streams.Start()

	return &StreamHub{
		log:       log,
		clock:     clock,
		chunkSize: defaultChunkSize,
		streams:   streams,
	}
}

// Close stops the expiry loop and finishes every retained stream.
func (h *StreamHub) Close() {
	h.streams.Stop()
	h.streams.DeleteAll()
}

func (h *StreamHub) stream(requestID string) *requestStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if item := h.streams.Get(requestID); item != nil {
		return item.Value()
	}
	rs := newRequestStream(requestID)
	h.streams.Set(requestID, rs, ttlcache.DefaultTTL)
	return rs
}

// Subscribe returns a subscriber for requestID and a function that detaches it.
func (h *StreamHub) Subscribe(requestID string) (*Subscriber, func()) {
	sub := h.stream(requestID).subscribe()
	return sub, sub.detach
}

// PublishProgress records a pipeline progress event.
func (h *StreamHub) PublishProgress(requestID string, p pipeline.Progress) {
	update := &ProgressUpdate{
		RequestID: requestID,
		Stage:     string(p.Stage),
		Message:   p.Message,
		Iteration: int32(p.Iteration),
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if p.Error != nil {
		msg := p.Error.Error()
		update.Error = &msg
	}
	h.stream(requestID).publish(h.log, StreamEvent{Type: EventProgress, Progress: update})
}

// PublishInsight streams output in chunks followed by a done marker.
func (h *StreamHub) PublishInsight(requestID, output string) {
	rs := h.stream(requestID)
	for _, chunk := range splitChunks(output, h.chunkSize) {
		rs.publish(h.log, StreamEvent{Type: EventChunk, Chunk: &InsightChunk{RequestID: requestID, Content: chunk}})
	}
	rs.publish(h.log, StreamEvent{Type: EventChunk, Chunk: &InsightChunk{RequestID: requestID, Done: true}})
}

// Finish marks the request complete and releases its subscribers.
func (h *StreamHub) Finish(requestID string) {
	h.stream(requestID).finish()
}

// splitChunks splits s into pieces of at most size runes.
func splitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
