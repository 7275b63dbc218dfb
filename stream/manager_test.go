package stream

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateConnection(t *testing.T) {
	mgr := NewManager(DefaultConfig())
	defer mgr.Shutdown()

	conn, err := mgr.CreateConnection("feed", "wss://example.com/stream", KindWebSocket,
		WithTransport(newFakeTransport()))
	require.NoError(t, err)
	assert.Equal(t, "feed", conn.ID())
	assert.Equal(t, StateDisconnected, conn.State())

	got, ok := mgr.Connection("feed")
	require.True(t, ok)
	assert.Same(t, conn, got)

	_, ok = mgr.Connection("absent")
	assert.False(t, ok)
}

func TestManagerDuplicateID(t *testing.T) {
	mgr := NewManager(DefaultConfig())
	defer mgr.Shutdown()

	_, err := mgr.CreateConnection("feed", "wss://example.com", KindWebSocket,
		WithTransport(newFakeTransport()))
	require.NoError(t, err)

	_, err = mgr.CreateConnection("feed", "wss://example.com", KindWebSocket,
		WithTransport(newFakeTransport()))
	assert.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestManagerConcurrencyCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentStreams = 2

	mgr := NewManager(cfg)
	defer mgr.Shutdown()

	for i := 0; i < 2; i++ {
		_, err := mgr.CreateConnection(fmt.Sprintf("c%d", i), "wss://example.com", KindWebSocket,
			WithTransport(newFakeTransport()))
		require.NoError(t, err)
	}

	_, err := mgr.CreateConnection("c2", "wss://example.com", KindWebSocket,
		WithTransport(newFakeTransport()))
	assert.ErrorIs(t, err, ErrTooManyStreams)

	// Removing one frees a slot.
	mgr.RemoveConnection("c0")
	_, err = mgr.CreateConnection("c2", "wss://example.com", KindWebSocket,
		WithTransport(newFakeTransport()))
	require.NoError(t, err)
	assert.Equal(t, 2, mgr.Len())
}

func TestManagerRemoveDisconnects(t *testing.T) {
	mgr := NewManager(DefaultConfig())
	defer mgr.Shutdown()

	conn, err := mgr.CreateConnection("feed", "wss://example.com", KindWebSocket,
		WithTransport(newFakeTransport()))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))

	mgr.RemoveConnection("feed")
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 0, mgr.Len())
}

func TestManagerShutdown(t *testing.T) {
	mgr := NewManager(DefaultConfig())

	conns := make([]*Connection, 0, 3)
	for i := 0; i < 3; i++ {
		conn, err := mgr.CreateConnection(fmt.Sprintf("c%d", i), "wss://example.com", KindWebSocket,
			WithTransport(newFakeTransport()))
		require.NoError(t, err)
		require.NoError(t, conn.Connect(context.Background()))
		conns = append(conns, conn)
	}

	mgr.Shutdown()

	for _, conn := range conns {
		assert.Equal(t, StateClosed, conn.State())
	}
	_, err := mgr.CreateConnection("late", "wss://example.com", KindWebSocket,
		WithTransport(newFakeTransport()))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
