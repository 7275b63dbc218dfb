package stream

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager owns a set of Connections and enforces the concurrency cap.
// All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	connections map[string]*Connection
	closed      bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger, which also propagates to created
// connections. Defaults to a no-op logger.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:         cfg.withDefaults(),
		logger:      zerolog.Nop(),
		connections: make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateConnection registers a new Connection in StateDisconnected.
// It returns ErrTooManyStreams at the concurrency cap and
// ErrDuplicateConnection when the ID is taken. The caller connects it.
func (m *Manager) CreateConnection(id, url string, kind Kind, opts ...ConnectionOption) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrConnectionClosed
	}
	if _, exists := m.connections[id]; exists {
		return nil, ErrDuplicateConnection
	}
	if len(m.connections) >= m.cfg.MaxConcurrentStreams {
		return nil, ErrTooManyStreams
	}

	opts = append([]ConnectionOption{WithConnectionLogger(m.logger)}, opts...)
	conn, err := NewConnection(id, url, kind, m.cfg, opts...)
	if err != nil {
		return nil, err
	}
	m.connections[id] = conn

	m.logger.Debug().Str("connection_id", id).Str("url", url).Msg("stream: connection created")
	return conn, nil
}

// Connection returns the connection with the given ID, if any.
func (m *Manager) Connection(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	return conn, ok
}

// RemoveConnection disconnects and forgets the connection with the
// given ID.
func (m *Manager) RemoveConnection(id string) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	delete(m.connections, id)
	m.mu.Unlock()

	if ok {
		conn.Disconnect()
	}
}

// Len returns the number of registered connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// Shutdown closes every connection and refuses further creation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
	m.logger.Debug().Int("connections", len(conns)).Msg("stream: manager shut down")
}
