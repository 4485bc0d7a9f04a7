package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

const progressSubscription = `subscription($requestId: String!) {
	progressUpdates(requestId: $requestId) { requestId stage message iteration error }
}`

// ProgressUpdate is one pipeline stage reported by the API.
type ProgressUpdate struct {
	RequestID string  `json:"requestId"`
	Stage     string  `json:"stage"`
	Message   string  `json:"message"`
	Iteration int     `json:"iteration"`
	Error     *string `json:"error"`
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProgressWatcher follows progress updates over the graphql-transport-ws
// subscription endpoint.
type ProgressWatcher struct {
	log    *slog.Logger
	url    string
	apiKey string
	dialer *websocket.Dialer
}

func NewProgressWatcher(log *slog.Logger, url, apiKey string) *ProgressWatcher {
	return &ProgressWatcher{
		log:    log,
		url:    url,
		apiKey: apiKey,
		dialer: &websocket.Dialer{Subprotocols: []string{"graphql-transport-ws"}},
	}
}

// Watch calls fn for every update of requestID until the server completes the
// subscription or ctx is done.
func (w *ProgressWatcher) Watch(ctx context.Context, requestID string, fn func(ProgressUpdate)) error {
	header := http.Header{}
	header.Set(apiKeyHeader, w.apiKey)
	conn, _, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", w.url, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	initPayload, _ := json.Marshal(map[string]string{apiKeyHeader: w.apiKey})
	if err := conn.WriteJSON(wsMessage{Type: "connection_init", Payload: initPayload}); err != nil {
		return fmt.Errorf("failed to send connection_init: %w", err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("failed to read connection_ack: %w", err)
	}
	if ack.Type != "connection_ack" {
		return fmt.Errorf("unexpected message %q before connection_ack", ack.Type)
	}

	subPayload, _ := json.Marshal(map[string]any{
		"query":     progressSubscription,
		"variables": map[string]string{"requestId": requestID},
	})
	if err := conn.WriteJSON(wsMessage{ID: requestID, Type: "subscribe", Payload: subPayload}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read progress: %w", err)
		}
		switch msg.Type {
		case "next":
			var payload struct {
				Data struct {
					ProgressUpdates ProgressUpdate `json:"progressUpdates"`
				} `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				w.log.Debug("chat: skipping malformed progress", "error", err)
				continue
			}
			fn(payload.Data.ProgressUpdates)
		case "ping":
			if err := conn.WriteJSON(wsMessage{Type: "pong"}); err != nil {
				return fmt.Errorf("failed to send pong: %w", err)
			}
		case "error":
			return errors.New("progress subscription error: " + string(msg.Payload))
		case "complete":
			return nil
		}
	}
}
