package stream

import "context"

// Kind selects the wire transport for a connection.
type Kind string

const (
	// KindWebSocket is a bidirectional socket transport.
	KindWebSocket Kind = "websocket"
	// KindSSE is a server-sent-events transport. It is receive-only;
	// Send on an SSE connection returns ErrSendUnsupported.
	KindSSE Kind = "sse"
)

// Conn is one open transport connection. Implementations are used by a
// single Connection: Read is called from one goroutine and Write/Ping
// from another, so they must tolerate that degree of concurrency.
type Conn interface {
	// Read blocks for the next message. It returns io.EOF when the peer
	// ends the stream cleanly.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one message.
	Write(ctx context.Context, data []byte) error

	// Ping sends a keepalive probe. Transports without one return nil.
	Ping(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport dials connections of one Kind.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// transportFor maps a Kind to its shipped transport.
func transportFor(kind Kind) (Transport, error) {
	switch kind {
	case KindWebSocket:
		return NewWebSocketTransport(), nil
	case KindSSE:
		return NewSSETransport(), nil
	default:
		return nil, &UnsupportedKindError{Kind: kind}
	}
}
