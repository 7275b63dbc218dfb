package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64 // expired or invalidated entries removed by the manager
	Entries   int   // current backend size
}

// HitRate returns hits / (hits + misses), or 0 before any reads.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Manager is the cache front door: serialization, compression, TTL,
// invalidation and statistics over a pluggable Storage. It is safe for
// concurrent use.
type Manager struct {
	cfg     Config
	storage Storage
	logger  zerolog.Logger
	now     func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithStorage installs a custom backend. Defaults to an in-memory store
// bounded by Config.MaxSize.
func WithStorage(storage Storage) ManagerOption {
	return func(m *Manager) { m.storage = storage }
}

// WithManagerLogger sets the logger. Defaults to a no-op logger.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithManagerClock overrides the time source. Intended for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager and, when CleanupInterval is set, starts
// the background sweep. Call Close to stop it.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		logger:    zerolog.Nop(),
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.storage == nil {
		m.storage = NewMemoryStorage(m.cfg.MaxSize)
	}

	if m.cfg.Enabled && m.cfg.CleanupInterval > 0 {
		go m.sweepLoop()
	}
	return m
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl  time.Duration
	tags []string
}

// WithTTL overrides the default TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

// WithTags attaches tags for later InvalidateByTags.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) { o.tags = tags }
}

// Get looks key up and decodes the cached value into dest. It returns
// false on a miss (absent, expired, or cache disabled). A backend failure
// returns (false, *Error): treat it as a miss and proceed uncached.
func (m *Manager) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !m.cfg.Enabled {
		return false, nil
	}

	entry, ok, err := m.storage.Get(ctx, m.cfg.KeyPrefix+key)
	if err != nil {
		m.misses.Add(1)
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	if !ok {
		m.misses.Add(1)
		return false, nil
	}

	now := m.now()
	if entry.expired(now) {
		// Lazy expiry: drop the stale entry on the way out.
		if err := m.storage.Delete(ctx, m.cfg.KeyPrefix+key); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("cache: deleting expired entry failed")
		} else {
			m.evictions.Add(1)
		}
		m.misses.Add(1)
		return false, nil
	}

	entry.AccessCount++
	entry.LastAccessed = now
	if err := m.storage.Set(ctx, m.cfg.KeyPrefix+key, entry); err != nil {
		// Access bookkeeping is best-effort; the hit still counts.
		m.logger.Debug().Err(err).Str("key", key).Msg("cache: updating access stats failed")
	}

	data := entry.Data
	if entry.Compressed {
		if data, err = decompress(data); err != nil {
			m.misses.Add(1)
			return false, &Error{Op: "get", Key: key, Err: err}
		}
	}
	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			m.misses.Add(1)
			return false, &Error{Op: "get", Key: key, Err: err}
		}
	}

	m.hits.Add(1)
	return true, nil
}

// Set serializes value and stores it under key. The entry expires after
// the default TTL unless WithTTL overrides it.
func (m *Manager) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	if !m.cfg.Enabled {
		return nil
	}

	o := setOptions{ttl: m.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = m.cfg.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}

	compressed := false
	if m.cfg.CompressionEnabled && len(data) > m.cfg.CompressionThreshold {
		if packed, err := compress(data); err == nil && len(packed) < len(data) {
			data = packed
			compressed = true
		}
	}

	now := m.now()
	entry := Entry{
		Data:       data,
		Compressed: compressed,
		CreatedAt:  now,
		ExpiresAt:  now.Add(o.ttl),
		Tags:       o.tags,
	}
	if err := m.storage.Set(ctx, m.cfg.KeyPrefix+key, entry); err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	m.sets.Add(1)
	return nil
}

// Delete removes key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if !m.cfg.Enabled {
		return nil
	}
	if err := m.storage.Delete(ctx, m.cfg.KeyPrefix+key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Has reports whether key exists and is fresh, without touching access
// statistics.
func (m *Manager) Has(ctx context.Context, key string) bool {
	if !m.cfg.Enabled {
		return false
	}
	entry, ok, err := m.storage.Get(ctx, m.cfg.KeyPrefix+key)
	return err == nil && ok && !entry.expired(m.now())
}

// Clear removes every entry.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.storage.Clear(ctx); err != nil {
		return &Error{Op: "clear", Err: err}
	}
	return nil
}

// InvalidateByPrefix removes every entry whose key starts with prefix and
// returns how many were removed.
func (m *Manager) InvalidateByPrefix(ctx context.Context, prefix string) (int, error) {
	return m.invalidate(ctx, "invalidate-prefix", func(key string, _ Entry) bool {
		return strings.HasPrefix(key, prefix)
	}, false)
}

// InvalidateByPattern removes every entry whose key matches the regular
// expression and returns how many were removed.
func (m *Manager) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, &Error{Op: "invalidate-pattern", Err: err}
	}
	return m.invalidate(ctx, "invalidate-pattern", func(key string, _ Entry) bool {
		return re.MatchString(key)
	}, false)
}

// InvalidateByTags removes every entry whose tag set intersects tags and
// returns how many were removed.
func (m *Manager) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	return m.invalidate(ctx, "invalidate-tags", func(_ string, entry Entry) bool {
		return entry.hasAnyTag(tags)
	}, true)
}

// Cleanup removes every expired entry and returns how many were removed.
// It also runs periodically when CleanupInterval is configured.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	now := m.now()
	return m.invalidate(ctx, "cleanup", func(_ string, entry Entry) bool {
		return entry.expired(now)
	}, true)
}

// Stats returns current counters and backend size.
func (m *Manager) Stats() Stats {
	size, err := m.storage.Len(context.Background())
	if err != nil {
		size = 0
	}
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Sets:      m.sets.Load(),
		Evictions: m.evictions.Load(),
		Entries:   size,
	}
}

// Close stops the background sweep. The backend is left intact.
func (m *Manager) Close() {
	m.sweepOnce.Do(func() { close(m.stopSweep) })
}

// invalidate removes entries matched by match. needsEntry controls whether
// the matcher needs the entry loaded (tag and expiry matching do; key
// matching does not).
func (m *Manager) invalidate(ctx context.Context, op string, match func(key string, entry Entry) bool, needsEntry bool) (int, error) {
	if !m.cfg.Enabled {
		return 0, nil
	}

	keys, err := m.storage.Keys(ctx)
	if err != nil {
		return 0, &Error{Op: op, Err: err}
	}

	removed := 0
	for _, fullKey := range keys {
		key := strings.TrimPrefix(fullKey, m.cfg.KeyPrefix)

		var entry Entry
		if needsEntry {
			var ok bool
			entry, ok, err = m.storage.Get(ctx, fullKey)
			if err != nil || !ok {
				continue
			}
		}
		if !match(key, entry) {
			continue
		}
		if err := m.storage.Delete(ctx, fullKey); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Str("op", op).Msg("cache: delete failed")
			continue
		}
		removed++
	}

	m.evictions.Add(int64(removed))
	return removed, nil
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			removed, err := m.Cleanup(context.Background())
			if err != nil {
				m.logger.Warn().Err(err).Msg("cache: background sweep failed")
				continue
			}
			if removed > 0 {
				m.logger.Debug().Int("removed", removed).Msg("cache: background sweep")
			}
		}
	}
}
