package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
)

// maxFrameBytes bounds one inbound text frame.
const maxFrameBytes = 1 << 20

// wsConn is one WebSocket connection. Outbound messages go through a bounded
// queue drained by a single write pump; a full queue drops the message.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	writeTimeout time.Duration
	pingInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, queueSize int, writeTimeout, pingInterval time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *wsConn) ID() string { return c.id }

// Send queues msg without blocking.
func (c *wsConn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// pongWait is how long a connection may stay silent, pongs included.
func (c *wsConn) pongWait() time.Duration {
	return 2 * c.pingInterval
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// handleWebSocket handles GET /ws.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"Only GET method is allowed", nil)
		return
	}

	q := r.URL.Query()
	role, err := registry.ParseRole(q.Get("role"))
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	label := strings.TrimSpace(q.Get("label"))
	systemID := strings.TrimSpace(q.Get("systemId"))

	claims, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	if claims != nil {
		if !claims.HasRole(string(role)) {
			WriteAPIError(w, ErrForbiddenError)
			return
		}
		label = claims.Label()
		if role == registry.RoleDevice && systemID == "" {
			systemID = claims.SystemID
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSConn(ws, s.config.ClientQueueSize, s.config.WriteTimeout, s.config.PingInterval)
	if label == "" {
		label = string(role) + "-" + c.id[:8]
	}
	s.track(c)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	s.deps.Handler.OnConnect(c, role, label, systemID)
	go func() {
		defer s.wg.Done()
		s.readPump(c)
	}()
}

// readPump feeds inbound frames to the dispatcher until the socket fails.
func (s *Server) readPump(c *wsConn) {
	defer func() {
		s.deps.Handler.OnDisconnect(c)
		c.Close()
		s.untrack(c)
	}()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally.
			default:
				if s.deps.Reporter != nil {
					s.deps.Reporter.Report("websocket read", err)
				}
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		if msgType != websocket.TextMessage {
			continue
		}
		_ = s.deps.Handler.HandleFrame(c, data)
	}
}

var _ registry.Conn = (*wsConn)(nil)
