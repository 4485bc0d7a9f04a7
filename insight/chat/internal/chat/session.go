package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// History lengths sent to the API.
const (
	InsightHistoryTurns  = 5
	FollowUpHistoryTurns = 10
)

// Exchange is one user turn and the assistant's answer.
type Exchange struct {
	User      string
	Assistant string
}

// Session is the state of one conversation.
type Session struct {
	ConversationID string

	mu           sync.Mutex
	history      []Exchange
	topic        string
	lastResponse *InsightResponse
}

func NewSession(conversationID string) *Session {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return &Session{ConversationID: conversationID}
}

func (s *Session) AddToHistory(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Exchange{User: user, Assistant: assistant})
}

// HistoryString renders the last n turns as "User: ...\nAssistant: ..." blocks.
func (s *Session) HistoryString(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(len(s.history)-n, 0)
	var sb strings.Builder
	for _, ex := range s.history[start:] {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n\n", ex.User, ex.Assistant)
	}
	return strings.TrimSpace(sb.String())
}

// SetTopic records topic and reports whether it changed.
func (s *Session) SetTopic(topic string) bool {
	topic = strings.TrimSpace(topic)
	s.mu.Lock()
	defer s.mu.Unlock()
	if topic == "" || topic == s.topic {
		return false
	}
	s.topic = topic
	return true
}

func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

func (s *Session) SetLastResponse(resp *InsightResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResponse = resp
}

func (s *Session) LastResponse() *InsightResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// Manager keeps sessions until they idle out for the configured TTL.
type Manager struct {
	log      *slog.Logger
	mu       sync.Mutex
	sessions *ttlcache.Cache[string, *Session]
}

func NewManager(log *slog.Logger, ttl time.Duration) *Manager {
	sessions := ttlcache.New(
		ttlcache.WithTTL[string, *Session](ttl),
	)
	sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		log.Debug("chat: session ended", "conversation_id", item.Key(), "reason", reason)
	})
	go sessions.Start()
	return &Manager{log: log, sessions: sessions}
}

// Get returns the session for id, creating it when absent. Each access
// extends the session's lifetime.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.sessions.Get(id); item != nil {
		return item.Value()
	}
	s := NewSession(id)
	m.sessions.Set(s.ConversationID, s, ttlcache.DefaultTTL)
	m.log.Debug("chat: session started", "conversation_id", s.ConversationID)
	return s
}

// End discards the session.
func (m *Manager) End(id string) {
	m.sessions.Delete(id)
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}

func (m *Manager) Close() {
	m.sessions.Stop()
	m.sessions.DeleteAll()
}
