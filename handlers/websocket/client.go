package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5_000_000
	sendBufferSize = 256
)

// client is one connected collaborator: its identity, its websocket and its
// buffered outbound channel. The channel is closed exactly once, after which
// enqueue reports failure instead of panicking.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   ulid.Make().String(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// enqueue hands a frame to the write pump without blocking. A full buffer
// counts as a delivery failure and poisons the channel so the session can
// run disconnect cleanup.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump pumps frames from the websocket into the session's inbound queue.
// It runs once per connection and owns all reads.
func (c *client) readPump(s *Session) {
	defer func() {
		c.close()
		s.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithFields(logrus.Fields{
					"client_id": c.id,
					"error":     err,
				}).Warn("Websocket read failed")
			}
			return
		}
		s.inbound <- inboundFrame{senderID: c.id, data: data}
	}
}

// writePump pumps frames from the outbound channel to the websocket and
// keeps the connection alive with pings. It runs once per connection and
// owns all writes.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
