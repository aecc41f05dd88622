package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/mmgame/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// session is the per-connection key/value bag. Populated by join/create,
// cleared on leave or disconnect.
type session struct {
	playerID     string
	gameCode     string
	displayName  string
	isGamemaster bool
}

// conn abstracts the websocket so dispatch can be tested without a socket.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// client is one connected participant.
type client struct {
	conn   conn
	send   chan []byte
	logger *slog.Logger

	mu   sync.Mutex
	sess session

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(c conn, logger *slog.Logger) *client {
	return &client{
		conn:   c,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (c *client) session() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *client) setSession(s session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *client) clearSession() {
	c.setSession(session{})
}

// sendEvent marshals and enqueues one envelope. A client that cannot keep
// up has its message dropped rather than blocking the game.
func (c *client) sendEvent(eventType string, id int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal payload", "event", eventType, "error", err)
		return
	}
	frame, err := json.Marshal(model.Envelope{Type: eventType, ID: id, Payload: data})
	if err != nil {
		c.logger.Error("marshal envelope", "event", eventType, "error", err)
		return
	}

	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Warn("send buffer full, dropping event", "event", eventType)
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
