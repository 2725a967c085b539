package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ipx800-bridge/internal/bridge"
	"github.com/nerrad567/ipx800-bridge/internal/hub"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/logging"
)

// wsReplyBuffer is the per-client queue of command responses.
const wsReplyBuffer = 16

// Close reasons sent to consumers.
const (
	wsCloseBackpressure = "consumer too slow"
	wsCloseShutdown     = "server shutting down"
)

// wsClient is one connected consumer of an endpoint.
//
// State snapshots come from the endpoint hub subscription; command
// responses come from readPump through replies. writePump is the only
// writer on the connection.
type wsClient struct {
	conn    *websocket.Conn
	bridge  *bridge.Bridge
	sub     *hub.Subscription
	replies chan []byte
	cfg     config.WebSocketConfig
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the connection and subscribes the consumer to
// the endpoint. The first message is always the full snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	b := bridgeFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// The request context ends when the handler returns; tie the client to
	// the server lifetime instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := &wsClient{
		conn:    conn,
		bridge:  b,
		sub:     b.Hub().Subscribe(),
		replies: make(chan []byte, wsReplyBuffer),
		cfg:     s.wsCfg,
		logger:  s.logger.With("endpoint", b.ID(), "remote", r.RemoteAddr),
		ctx:     ctx,
		cancel:  cancel,
	}

	if !s.register(client) {
		client.close()
		return
	}

	go client.writePump()
	go func() {
		client.readPump()
		s.unregister(client)
	}()
}

// register tracks a client so Close can disconnect it. It reports false
// once the server is shutting down.
func (s *Server) register(c *wsClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients == nil {
		return false
	}
	s.clients[c] = struct{}{}
	s.logger.Debug("websocket client connected", "clients", len(s.clients))
	return true
}

func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	if s.clients != nil {
		delete(s.clients, c)
	}
	s.mu.Unlock()
	c.close()
}

// closeClients disconnects every consumer and rejects new ones.
func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()

	for c := range clients {
		c.closeWithReason(websocket.CloseGoingAway, wsCloseShutdown)
	}
}

// ClientCount returns the number of connected WebSocket consumers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// readPump reads commands and queues their responses until the
// connection fails or the client is closed.
func (c *wsClient) readPump() {
	defer c.cancel()

	pingInterval, pongWait := c.timings()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.cfg.MaxMessageSize))
	}
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		reply := c.bridge.HandleMessage(c.ctx, message)
		select {
		case c.replies <- reply:
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump forwards snapshots and responses to the connection and keeps
// it alive with pings.
func (c *wsClient) writePump() {
	pingInterval, pongWait := c.timings()

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	first := true
	for {
		select {
		case snap, ok := <-c.sub.C():
			if !ok {
				c.closeForSubscription()
				return
			}
			data, err := bridge.EncodeState(snap, first)
			if err != nil {
				c.logger.Error("failed to encode snapshot", "error", err)
				continue
			}
			first = false
			if !c.write(websocket.TextMessage, data, pongWait) {
				return
			}

		case <-c.sub.Done():
			c.closeForSubscription()
			return

		case reply := <-c.replies:
			if !c.write(websocket.TextMessage, reply, pongWait) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil, pongWait) {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// timings returns the ping interval and pong timeout, defaulting to 30s and 10s.
func (c *wsClient) timings() (time.Duration, time.Duration) {
	ping := time.Duration(c.cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong := time.Duration(c.cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

func (c *wsClient) write(messageType int, data []byte, wait time.Duration) bool {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(wait))
	return c.conn.WriteMessage(messageType, data) == nil
}

// closeForSubscription tells the consumer why its subscription ended.
func (c *wsClient) closeForSubscription() {
	err := c.sub.Err()
	switch {
	case errors.Is(err, hub.ErrConsumerBackpressure):
		c.logger.Warn("websocket consumer disconnected", "reason", wsCloseBackpressure)
		c.closeWithReason(websocket.ClosePolicyViolation, wsCloseBackpressure)
	default:
		c.closeWithReason(websocket.CloseGoingAway, wsCloseShutdown)
	}
}

// closeWithReason sends a close frame and closes the connection.
func (c *wsClient) closeWithReason(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	//nolint:errcheck // Best-effort close frame
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.close()
}

// close releases the subscription and the connection. Safe to call more than once.
func (c *wsClient) close() {
	c.cancel()
	c.bridge.Hub().Unsubscribe(c.sub)
	c.conn.Close()
}
