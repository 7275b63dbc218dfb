package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport dials bidirectional socket connections using
// gorilla/websocket.
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

// WebSocketOption customizes the transport.
type WebSocketOption func(*WebSocketTransport)

// WithDialer replaces the underlying dialer, e.g. to set a proxy or TLS
// configuration.
func WithDialer(dialer *websocket.Dialer) WebSocketOption {
	return func(t *WebSocketTransport) { t.dialer = dialer }
}

// NewWebSocketTransport creates a WebSocket transport with the default
// dialer.
func NewWebSocketTransport(opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

// wsConn adapts *websocket.Conn to the Conn contract. gorilla allows one
// concurrent reader and one concurrent writer; writeMu serializes Write
// against Ping.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Read(_ context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping(_ context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
