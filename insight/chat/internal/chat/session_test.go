package chat

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChat_Session_HistoryString(t *testing.T) {
	t.Parallel()

	s := NewSession("")
	require.NotEmpty(t, s.ConversationID)
	require.Empty(t, s.HistoryString(5))

	for i := 1; i <= 7; i++ {
		s.AddToHistory(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	require.Equal(t, "User: q6\nAssistant: a6\n\nUser: q7\nAssistant: a7", s.HistoryString(2))

	full := s.HistoryString(10)
	require.Contains(t, full, "User: q1\n")
	require.Contains(t, full, "Assistant: a7")
}

func TestChat_Session_SetTopic(t *testing.T) {
	t.Parallel()

	s := NewSession("c1")
	require.False(t, s.SetTopic("  "))
	require.True(t, s.SetTopic(" Revenue DWS "))
	require.Equal(t, "Revenue DWS", s.Topic())
	require.False(t, s.SetTopic("Revenue DWS"))
	require.True(t, s.SetTopic("EBITDA TELIN"))
}

func TestChat_Manager(t *testing.T) {
	t.Parallel()

	m := NewManager(discard(), time.Hour)
	defer m.Close()

	a := m.Get("a")
	require.Same(t, a, m.Get("a"))
	require.Equal(t, "a", a.ConversationID)
	require.Equal(t, 1, m.Len())

	m.End("a")
	require.Equal(t, 0, m.Len())
	require.NotSame(t, a, m.Get("a"))
}
