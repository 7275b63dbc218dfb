package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerClock struct {
	now time.Time
}

func newManagerClock() *managerClock {
	return &managerClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *managerClock) Now() time.Time { return c.now }

func (c *managerClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestManager(t *testing.T, cfg Config, opts ...ManagerOption) (*Manager, *managerClock) {
	t.Helper()
	clock := newManagerClock()
	cfg.CleanupInterval = 0 // sweep driven explicitly in tests
	opts = append(opts, WithManagerClock(clock.Now))
	m := NewManager(cfg, opts...)
	t.Cleanup(m.Close)
	return m, clock
}

func TestManagerRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "events:list", payload{Name: "deploy", Count: 3}))

	var got payload
	ok, err := m.Get(ctx, "events:list", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "deploy", Count: 3}, got)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.Entries)
}

func TestManagerMiss(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())

	var got payload
	ok, err := m.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), m.Stats().Misses)
}

func TestManagerTTLExpiry(t *testing.T) {
	m, clock := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", payload{Name: "a"}, WithTTL(time.Minute)))

	clock.Advance(59 * time.Second)
	assert.True(t, m.Has(ctx, "short"))

	clock.Advance(2 * time.Second)
	assert.False(t, m.Has(ctx, "short"))

	var got payload
	ok, err := m.Get(ctx, "short", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	// Lazy expiry removed the entry from the backend.
	assert.Equal(t, 0, m.Stats().Entries)
	assert.Equal(t, int64(1), m.Stats().Evictions)
}

func TestManagerDelete(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", payload{Name: "v"}))
	require.NoError(t, m.Delete(ctx, "k"))
	assert.False(t, m.Has(ctx, "k"))
}

func TestManagerDisabled(t *testing.T) {
	m, _ := newTestManager(t, DisabledConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", payload{Name: "v"}))

	var got payload
	ok, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.Has(ctx, "k"))
}

func TestManagerInvalidateByPrefix(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "events:1", payload{}))
	require.NoError(t, m.Set(ctx, "events:2", payload{}))
	require.NoError(t, m.Set(ctx, "audits:1", payload{}))

	removed, err := m.InvalidateByPrefix(ctx, "events:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, m.Has(ctx, "events:1"))
	assert.True(t, m.Has(ctx, "audits:1"))
}

func TestManagerInvalidateByPattern(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "events:42:detail", payload{}))
	require.NoError(t, m.Set(ctx, "events:43:detail", payload{}))
	require.NoError(t, m.Set(ctx, "events:42:summary", payload{}))

	removed, err := m.InvalidateByPattern(ctx, `^events:\d+:detail$`)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, m.Has(ctx, "events:42:summary"))

	_, err = m.InvalidateByPattern(ctx, `([`)
	require.Error(t, err)
}

func TestManagerInvalidateByTags(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", payload{}, WithTags("events", "org:7")))
	require.NoError(t, m.Set(ctx, "b", payload{}, WithTags("audits")))
	require.NoError(t, m.Set(ctx, "c", payload{}, WithTags("org:7")))
	require.NoError(t, m.Set(ctx, "d", payload{}))

	removed, err := m.InvalidateByTags(ctx, "org:7")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, m.Has(ctx, "a"))
	assert.True(t, m.Has(ctx, "b"))
	assert.False(t, m.Has(ctx, "c"))
	assert.True(t, m.Has(ctx, "d"))

	removed, err = m.InvalidateByTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestManagerCleanup(t *testing.T) {
	m, clock := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", payload{}, WithTTL(time.Minute)))
	require.NoError(t, m.Set(ctx, "long", payload{}, WithTTL(time.Hour)))

	clock.Advance(2 * time.Minute)

	removed, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, m.Has(ctx, "short"))
	assert.True(t, m.Has(ctx, "long"))
}

func TestManagerCompression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionEnabled = true
	cfg.CompressionThreshold = 64

	storage := NewMemoryStorage(10)
	m, _ := newTestManager(t, cfg, WithStorage(storage))
	ctx := context.Background()

	big := payload{Name: strings.Repeat("audit-event ", 100)}
	require.NoError(t, m.Set(ctx, "big", big))

	entry, ok, err := storage.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.Compressed)
	assert.Less(t, len(entry.Data), 1200)

	var got payload
	ok, err = m.Get(ctx, "big", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, got)
}

func TestManagerCompressionBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionEnabled = true
	cfg.CompressionThreshold = 1024

	storage := NewMemoryStorage(10)
	m, _ := newTestManager(t, cfg, WithStorage(storage))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "small", payload{Name: "tiny"}))

	entry, ok, err := storage.Get(ctx, "small")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Compressed)
}

func TestManagerKeyPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyPrefix = "tenant-a:"

	storage := NewMemoryStorage(10)
	m, _ := newTestManager(t, cfg, WithStorage(storage))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "events:1", payload{}))

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a:events:1"}, keys)

	// Invalidation matches against the caller-facing key, not the
	// prefixed backend key.
	removed, err := m.InvalidateByPrefix(ctx, "events:")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManagerAccessStats(t *testing.T) {
	storage := NewMemoryStorage(10)
	m, clock := newTestManager(t, DefaultConfig(), WithStorage(storage))
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", payload{}))

	clock.Advance(10 * time.Second)
	var got payload
	_, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	_, err = m.Get(ctx, "k", &got)
	require.NoError(t, err)

	entry, ok, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.AccessCount)
	assert.Equal(t, clock.Now(), entry.LastAccessed)
}

func TestManagerHitRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
	assert.InDelta(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate(), 1e-9)
}
