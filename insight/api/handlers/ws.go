package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cfuwib/insightbot/insight/api/metrics"
	"github.com/gorilla/websocket"
	graphql "github.com/graph-gophers/graphql-go"
)

// graphql-transport-ws message types.
const (
	wsSubprotocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Close codes.
const (
	closeBadRequest     = 4400
	closeUnauthorized   = 4401
	closeForbidden      = 4403
	closeInitTimeout    = 4408
	closeSubscriberDup  = 4409
	closeTooManyInits   = 4429
	connectionInitLimit = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{wsSubprotocol},
	CheckOrigin:  func(*http.Request) bool { return true },
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsConn struct {
	h      *Handlers
	schema *graphql.Schema
	conn   *websocket.Conn
	authed bool

	writeMu sync.Mutex

	mu    sync.Mutex
	acked bool
	subs  map[string]context.CancelFunc
}

// GraphQLWebSocket handles /cfu-insight/ws using the graphql-transport-ws
// protocol. The API key is accepted from the upgrade request header or the
// connection_init payload.
func (h *Handlers) GraphQLWebSocket(schema *graphql.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("handlers: websocket upgrade failed", "error", err)
			return
		}
		c := &wsConn{
			h:      h,
			schema: schema,
			conn:   conn,
			authed: validAPIKey(r.Header.Get(APIKeyHeader), h.cfg.APIKey),
			subs:   make(map[string]context.CancelFunc),
		}
		c.serve(r.Context())
	}
}

func (c *wsConn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(connectionInitLimit))
	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			acked := c.acked
			c.mu.Unlock()
			if !acked {
				c.close(closeInitTimeout, "Connection initialisation timeout")
			}
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			if !c.init(msg.Payload) {
				return
			}
			_ = c.conn.SetReadDeadline(time.Time{})
		case msgPing:
			c.write(wsMessage{Type: msgPong})
		case msgPong:
		case msgSubscribe:
			if !c.subscribe(ctx, msg) {
				return
			}
		case msgComplete:
			c.stop(msg.ID)
		default:
			c.close(closeBadRequest, "Unknown message type: "+msg.Type)
			return
		}
	}
}

func (c *wsConn) init(payload json.RawMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acked {
		c.close(closeTooManyInits, "Too many initialisation requests")
		return false
	}
	if !c.authed && len(payload) > 0 {
		var p map[string]any
		if err := json.Unmarshal(payload, &p); err == nil {
			key, _ := p[APIKeyHeader].(string)
			c.authed = validAPIKey(key, c.h.cfg.APIKey)
		}
	}
	if !c.authed {
		metrics.APIKeyRejectionsTotal.WithLabelValues(metrics.TransportWebSocket).Inc()
		c.close(closeForbidden, "Forbidden")
		return false
	}
	c.acked = true
	c.write(wsMessage{Type: msgConnectionAck})
	return true
}

func (c *wsConn) subscribe(ctx context.Context, msg wsMessage) bool {
	c.mu.Lock()
	if !c.acked {
		c.mu.Unlock()
		c.close(closeUnauthorized, "Unauthorized")
		return false
	}
	if _, ok := c.subs[msg.ID]; ok || msg.ID == "" {
		c.mu.Unlock()
		c.close(closeSubscriberDup, "Subscriber for "+msg.ID+" already exists")
		return false
	}
	subCtx, cancel := context.WithCancel(ctx)
	c.subs[msg.ID] = cancel
	c.mu.Unlock()

	var req graphQLRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.stop(msg.ID)
		c.close(closeBadRequest, "Invalid subscribe payload")
		return false
	}

	if !isSubscription(req.Query) {
		go func() {
			resp := c.schema.Exec(subCtx, req.Query, req.OperationName, req.Variables)
			c.send(msg.ID, resp)
			c.finish(msg.ID)
		}()
		return true
	}

	results, err := c.schema.Subscribe(subCtx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		c.stop(msg.ID)
		payload, _ := json.Marshal([]map[string]string{{"message": err.Error()}})
		c.write(wsMessage{ID: msg.ID, Type: msgError, Payload: payload})
		return true
	}
	go func() {
		for res := range results {
			resp, ok := res.(*graphql.Response)
			if !ok {
				continue
			}
			c.send(msg.ID, resp)
		}
		c.finish(msg.ID)
	}()
	return true
}

func (c *wsConn) send(id string, resp *graphql.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.h.log.Error("handlers: failed to marshal graphql response", "id", id, "error", err)
		return
	}
	c.write(wsMessage{ID: id, Type: msgNext, Payload: payload})
}

// finish sends complete unless the client already cancelled id.
func (c *wsConn) finish(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	c.write(wsMessage{ID: id, Type: msgComplete})
}

func (c *wsConn) stop(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *wsConn) write(msg wsMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.h.log.Debug("handlers: websocket write failed", "type", msg.Type, "error", err)
	}
}

func (c *wsConn) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// isSubscription reports whether the first operation in query is a
// subscription.
func isSubscription(query string) bool {
	for _, line := range strings.Split(query, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.HasPrefix(line, "subscription")
	}
	return false
}
