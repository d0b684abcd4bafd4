package windowbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// WebSocketTransport is a Transport for web-based pop-out windows: every
// connected pop-out reads broadcast events off its own writePump, and the
// connection designated "main" answers relayed requests. Ping/pong
// keepalive per connection; each client has a buffered send channel that
// drops on a full buffer rather than blocking the broadcaster.
type WebSocketTransport struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[*wsConn]struct{}
	mainID  string
	respond *responseRouter
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type wsEnvelope struct {
	Event     string `json:"event"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// NewWebSocketTransport returns a Transport with no connections yet; wire
// its HTTP handler with ServeHTTP and call DesignateMain once the window
// acting as the state-holder connects.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:   make(map[*wsConn]struct{}),
		respond: newResponseRouter(),
	}
}

// ServeHTTP upgrades an incoming request to a WebSocket pop-out connection.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("windowbridge: websocket upgrade failed")
		return
	}

	c := &wsConn{id: uuid.New().String(), conn: conn, send: make(chan []byte, 256)}
	t.mu.Lock()
	t.conns[c] = struct{}{}
	if t.mainID == "" {
		t.mainID = c.id
	}
	t.mu.Unlock()

	go t.writePump(c)
	go t.readPump(c)
}

// DesignateMain marks connID as the state-holder window RequestFromMain
// relays to, overriding the default (the first connection to upgrade).
func (t *WebSocketTransport) DesignateMain(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mainID = connID
}

func (t *WebSocketTransport) readPump(c *wsConn) {
	defer func() {
		t.mu.Lock()
		delete(t.conns, c)
		t.mu.Unlock()
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		if env.Event == "BRIDGE_RESPONSE" && env.RequestID != "" {
			t.respond.deliver(env.RequestID, env.Payload)
		}
	}
}

func (t *WebSocketTransport) writePump(c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// RequestFromMain sends a request envelope to the designated main
// connection and waits for its matching BRIDGE_RESPONSE.
func (t *WebSocketTransport) RequestFromMain(ctx context.Context, channel string, payload any) (any, error) {
	t.mu.RLock()
	var main *wsConn
	for c := range t.conns {
		if c.id == t.mainID {
			main = c
			break
		}
	}
	t.mu.RUnlock()
	if main == nil {
		return nil, fmt.Errorf("windowbridge: no main window connected")
	}

	requestID := t.respond.register()
	defer t.respond.forget(requestID)

	data, err := json.Marshal(wsEnvelope{Event: channel, RequestID: requestID, Payload: payload})
	if err != nil {
		return nil, err
	}

	select {
	case main.send <- data:
	default:
		return nil, fmt.Errorf("windowbridge: main window send buffer full")
	}

	select {
	case snapshot := <-t.respond.wait(requestID):
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmitToPopouts broadcasts event to every connected pop-out, dropping it
// for any whose send buffer is full rather than blocking the caller.
func (t *WebSocketTransport) EmitToPopouts(event string, payload any) {
	data, err := json.Marshal(wsEnvelope{Event: event, Payload: payload})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("windowbridge: marshal broadcast")
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for c := range t.conns {
		select {
		case c.send <- data:
		default:
		}
	}
}
