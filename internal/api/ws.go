package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/auth"
	"github.com/redstone-dev/redstone/internal/events"
	"github.com/redstone-dev/redstone/internal/orchestrator"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	maxWSMessage = 1 << 20
)

var errTurnInProgress = errors.New("a turn is already running on this connection")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS layer and bearer tokens.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks open WebSocket connections.
type Hub struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*wsConn]struct{})}
}

func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a going-away close frame to every client and drops it.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// wsConn is one client connection. Writes are serialized by writeMu.
type wsConn struct {
	clientID string
	identity *auth.Identity
	conn     *websocket.Conn
	writeMu  sync.Mutex

	mu        sync.Mutex
	sessionID string // session of the last turn, reused when a message names none
	turn      *orchestrator.Turn
}

func (c *wsConn) writeJSON(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeJSON(data)
}

func (c *wsConn) sendEvent(e events.Event) error {
	data, err := events.Marshal(e)
	if err != nil {
		return err
	}
	return c.writeJSON(data)
}

func (c *wsConn) close(code int, reason string) {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.conn.Close()
}

// wsMessage is anything a client sends: a chat message, or a control
// message when Type is set.
type wsMessage struct {
	Type   string `json:"type,omitempty"` // "ping", "cancel" or empty
	TurnID string `json:"turn_id,omitempty"`
	turnInput
}

// serveWS upgrades /agents/ws/{clientID}. The bearer token may come in the
// ?token= query parameter since browsers cannot set headers on upgrade.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxWSMessage)

	c := &wsConn{clientID: chi.URLParam(r, "clientID"), identity: identity, conn: ws}
	s.hub.register(c)
	logger := log.With().Str("client_id", c.clientID).Str("user_id", identity.UserID).Logger()
	logger.Info().Msg("websocket connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		s.hub.unregister(c)
		c.abandonTurn()
		ws.Close()
		logger.Info().Msg("websocket disconnected")
	}()
	go c.pingLoop(done)

	c.send(map[string]string{"type": "connected", "client_id": c.clientID})

	// Turns outlive the connection; only an explicit cancel stops them.
	ctx := context.WithoutCancel(r.Context())
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendEvent(events.ErrorEvent{Message: "invalid message: " + err.Error(), Timestamp: time.Now().UTC()})
			continue
		}

		switch msg.Type {
		case "ping":
			c.send(map[string]string{"type": "pong", "timestamp": time.Now().UTC().Format(time.RFC3339)})
		case "cancel":
			if err := s.turns.Cancel(msg.TurnID, c.identity.UserID); err != nil {
				c.sendEvent(events.ErrorEvent{Turn: msg.TurnID, Message: err.Error(), Timestamp: time.Now().UTC()})
			}
		case "", "message":
			if err := s.startWSTurn(ctx, c, msg.turnInput); err != nil {
				c.sendEvent(events.ErrorEvent{Message: clientMessage(err), Timestamp: time.Now().UTC()})
			}
		default:
			c.sendEvent(events.ErrorEvent{Message: "unknown message type " + msg.Type, Timestamp: time.Now().UTC()})
		}
	}
}

// startWSTurn starts a turn and forwards its events in order. One turn runs
// per connection at a time.
func (s *Server) startWSTurn(ctx context.Context, c *wsConn, in turnInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != nil {
		return errTurnInProgress
	}
	if in.SessionID == "" {
		in.SessionID = c.sessionID
	}

	req, err := s.turnRequest(ctx, c.identity, in)
	if err != nil {
		return err
	}
	turn, err := s.turns.StreamTurn(ctx, req)
	if err != nil {
		return err
	}
	c.sessionID = turn.SessionID
	c.turn = turn

	go func() {
		defer c.release(turn)
		for e := range turn.Events() {
			// Free the slot before the client sees the end of the turn.
			if events.Terminal(e) {
				c.release(turn)
			}
			if err := c.sendEvent(e); err != nil {
				turn.Abandon()
				return
			}
		}
	}()
	return nil
}

func (c *wsConn) release(turn *orchestrator.Turn) {
	c.mu.Lock()
	if c.turn == turn {
		c.turn = nil
	}
	c.mu.Unlock()
}

// abandonTurn stops forwarding events. The turn keeps running and is recorded.
func (c *wsConn) abandonTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn != nil {
		c.turn.Abandon()
	}
}

func (c *wsConn) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// clientMessage hides internal errors from clients.
func clientMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		log.Error().Err(err).Msg("websocket turn failed")
		return "internal server error"
	}
	return err.Error()
}
