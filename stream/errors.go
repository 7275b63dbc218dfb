package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Connection and Manager.
var (
	// ErrTooManyStreams is returned by Manager.CreateConnection when
	// the configured concurrency cap is reached.
	ErrTooManyStreams = errors.New("stream: too many concurrent streams")

	// ErrDuplicateConnection is returned when a connection ID is
	// already in use.
	ErrDuplicateConnection = errors.New("stream: connection id already exists")

	// ErrNotConnected is returned by Send when the connection is not
	// in a state that accepts messages.
	ErrNotConnected = errors.New("stream: not connected")

	// ErrBufferFull is returned by Send under the buffer and pause
	// backpressure policies while the outbound buffer is saturated.
	ErrBufferFull = errors.New("stream: outbound buffer full")

	// ErrConnectionClosed is returned for operations on a connection
	// that has reached a terminal state.
	ErrConnectionClosed = errors.New("stream: connection closed")

	// ErrSendUnsupported is returned by Send on receive-only
	// transports such as SSE.
	ErrSendUnsupported = errors.New("stream: transport does not support sending")
)

// UnsupportedKindError reports an unknown transport kind.
type UnsupportedKindError struct {
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("stream: unsupported transport kind %q", e.Kind)
}
