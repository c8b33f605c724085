package client

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the message transport to the collaboration server: typed JSON out,
// raw frames in.
type Conn interface {
	Send(v any) error
	Receive() ([]byte, error)
	Close() error
}

type wsConn struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer; Send is called from both the
	// debounce timer and selection handlers.
	writeMu sync.Mutex
}

// Dial connects to the server's collaboration endpoint, e.g.
// ws://localhost:8001/ws.
func Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
