package stream

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
	StateErrored      State = "errored"
)

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Metrics is a point-in-time view of one connection's activity.
type Metrics struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	Reconnects       int64
	Dropped          int64
	BufferLen        int
}

// Connection is one managed push connection. It owns a transport Conn,
// an outbound buffer with backpressure, a heartbeat, and automatic
// reconnection. All methods are safe for concurrent use.
type Connection struct {
	id        string
	url       string
	kind      Kind
	cfg       Config
	transport Transport
	logger    zerolog.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	sessionCancel context.CancelFunc
	buffer        [][]byte
	backpressured bool
	attempts      int // consecutive failed connects since last success
	reconnectTmr  *time.Timer

	handlerMu sync.RWMutex
	handlers  map[EventType][]Handler

	wake chan struct{}

	sent       atomic.Int64
	received   atomic.Int64
	bytesSent  atomic.Int64
	bytesRecvd atomic.Int64
	reconnects atomic.Int64
	dropped    atomic.Int64
}

// ConnectionOption customizes a Connection.
type ConnectionOption func(*Connection)

// WithTransport replaces the transport implied by the connection's Kind.
func WithTransport(transport Transport) ConnectionOption {
	return func(c *Connection) { c.transport = transport }
}

// WithConnectionLogger sets the logger. Defaults to a no-op logger.
func WithConnectionLogger(logger zerolog.Logger) ConnectionOption {
	return func(c *Connection) { c.logger = logger }
}

// NewConnection creates a Connection in StateDisconnected. Call Connect
// to open it.
func NewConnection(id, url string, kind Kind, cfg Config, opts ...ConnectionOption) (*Connection, error) {
	c := &Connection{
		id:       id,
		url:      url,
		kind:     kind,
		cfg:      cfg.withDefaults(),
		logger:   zerolog.Nop(),
		state:    StateDisconnected,
		handlers: make(map[EventType][]Handler),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		t, err := transportFor(kind)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}
	return c, nil
}

// ID returns the connection's identifier.
func (c *Connection) ID() string { return c.id }

// URL returns the connection's endpoint.
func (c *Connection) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metrics returns current counters.
func (c *Connection) Metrics() Metrics {
	c.mu.Lock()
	bufLen := len(c.buffer)
	c.mu.Unlock()

	return Metrics{
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesRecvd.Load(),
		Reconnects:       c.reconnects.Load(),
		Dropped:          c.dropped.Load(),
		BufferLen:        bufLen,
	}
}

// On registers a handler for one event type. Handlers run on internal
// goroutines and must return quickly.
func (c *Connection) On(eventType EventType, handler Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

func (c *Connection) emit(event Event) {
	c.handlerMu.RLock()
	handlers := c.handlers[event.Type]
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Connect opens the transport. On dial failure it returns the error and,
// when reconnection is enabled and attempts remain, keeps retrying in
// the background.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state.terminal():
		c.mu.Unlock()
		return ErrConnectionClosed
	case c.state == StateConnecting || c.state == StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.transport.Dial(dialCtx, c.url)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("connection_id", c.id).Msg("stream: dial failed")
		c.handleFailure(err)
		return err
	}

	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.sessionCancel = sessionCancel
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	go c.readLoop(sessionCtx, conn)
	go c.writeLoop(sessionCtx, conn)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(sessionCtx, conn)
	}

	c.logger.Debug().Str("connection_id", c.id).Str("url", c.url).Msg("stream: connected")
	c.emit(Event{Type: EventConnect})
	return nil
}

// Send enqueues one outbound message. The buffer is drained by a writer
// goroutine; when it is saturated the configured backpressure policy
// applies.
func (c *Connection) Send(data []byte) error {
	if c.kind == KindSSE {
		return ErrSendUnsupported
	}

	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		if state.terminal() {
			return ErrConnectionClosed
		}
		return ErrNotConnected
	}

	if len(c.buffer) >= c.cfg.HighWaterMark {
		firstHit := !c.backpressured
		c.backpressured = true
		policy := c.cfg.BackpressurePolicy
		c.mu.Unlock()

		if firstHit {
			c.emit(Event{Type: EventBackpressure})
		}
		switch policy {
		case PolicyDrop:
			c.dropped.Add(1)
			c.logger.Warn().Str("connection_id", c.id).Msg("stream: buffer full, dropping message")
			return nil
		case PolicyError:
			c.fail(ErrBufferFull)
			return ErrBufferFull
		default: // PolicyBuffer, PolicyPause
			return ErrBufferFull
		}
	}

	c.buffer = append(c.buffer, data)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Disconnect closes the connection permanently. Buffered messages that
// were not yet written are discarded.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(StateClosed)
	c.mu.Unlock()

	c.emit(Event{Type: EventClose})
}

// fail moves the connection to StateErrored without reconnecting.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(StateErrored)
	c.mu.Unlock()

	c.emit(Event{Type: EventError, Err: err})
	c.emit(Event{Type: EventClose})
}

// teardownLocked cancels the session, closes the transport and settles
// the state. Caller holds c.mu.
func (c *Connection) teardownLocked(final State) {
	if c.reconnectTmr != nil {
		c.reconnectTmr.Stop()
		c.reconnectTmr = nil
	}
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.buffer = nil
	c.backpressured = false
	c.state = final
}

// connectionLost handles a transport failure observed by one of the
// session goroutines. The conn identity check makes the first observer
// win; late reports from the same dead session are ignored.
func (c *Connection) connectionLost(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.sessionCancel()
	c.sessionCancel = nil
	c.conn.Close()
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Warn().Err(err).Str("connection_id", c.id).Msg("stream: connection lost")
	c.emit(Event{Type: EventDisconnect, Err: err})
	c.handleFailure(err)
}

// handleFailure schedules a reconnect or, when attempts are exhausted or
// reconnection is disabled, settles the connection in StateErrored.
func (c *Connection) handleFailure(err error) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	if !c.cfg.Reconnect || c.attempts >= c.cfg.MaxReconnectAttempts {
		c.teardownLocked(StateErrored)
		c.mu.Unlock()

		c.logger.Warn().Err(err).Str("connection_id", c.id).Msg("stream: giving up")
		c.emit(Event{Type: EventError, Err: err})
		c.emit(Event{Type: EventClose})
		return
	}

	attempt := c.attempts
	c.attempts++
	c.state = StateReconnecting
	delay := c.reconnectDelay(attempt)
	c.reconnectTmr = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = c.Connect(context.Background())
	})
	c.mu.Unlock()

	c.reconnects.Add(1)
	c.logger.Debug().
		Str("connection_id", c.id).
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Msg("stream: reconnect scheduled")
	c.emit(Event{Type: EventReconnect, Attempt: attempt + 1})
}

// reconnectDelay computes min(base * multiplier^attempt, max) and
// jitters it within [delay/2, delay) so a fleet of clients does not
// reconnect in lockstep.
func (c *Connection) reconnectDelay(attempt int) time.Duration {
	base := float64(c.cfg.ReconnectDelay) * math.Pow(c.cfg.ReconnectBackoffMultiplier, float64(attempt))
	if capped := float64(c.cfg.MaxReconnectDelay); base > capped {
		base = capped
	}
	return time.Duration(base/2 + rand.Float64()*base/2)
}

func (c *Connection) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.emit(Event{Type: EventEnd})
				c.mu.Lock()
				if c.conn == conn {
					c.teardownLocked(StateClosed)
					c.mu.Unlock()
					c.emit(Event{Type: EventClose})
				} else {
					c.mu.Unlock()
				}
				return
			}
			c.emit(Event{Type: EventError, Err: err})
			c.connectionLost(conn, err)
			return
		}

		c.received.Add(1)
		c.bytesRecvd.Add(int64(len(data)))
		c.emit(Event{Type: EventData, Data: data})
	}
}

func (c *Connection) writeLoop(ctx context.Context, conn Conn) {
	for {
		data, ok := c.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}
		if err := conn.Write(ctx, data); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emit(Event{Type: EventError, Err: err})
			c.connectionLost(conn, err)
			return
		}
		c.sent.Add(1)
		c.bytesSent.Add(int64(len(data)))
	}
}

// dequeue pops the oldest buffered message and emits EventDrain when a
// backpressured buffer falls below the low water mark.
func (c *Connection) dequeue() ([]byte, bool) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil, false
	}
	data := c.buffer[0]
	c.buffer = c.buffer[1:]
	drained := c.backpressured && len(c.buffer) < c.cfg.LowWaterMark
	if drained {
		c.backpressured = false
	}
	c.mu.Unlock()

	if drained {
		c.emit(Event{Type: EventDrain})
	}
	return data, true
}

func (c *Connection) heartbeatLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.connectionLost(conn, err)
				return
			}
		}
	}
}
