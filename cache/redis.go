package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// defaultRedisCachePrefix namespaces cache entries in a shared Redis.
const defaultRedisCachePrefix = "trailguard:cache:"

// RedisStorage is a persistent backend on Redis. Entries are stored as
// JSON values with a server-side expiry matching the entry's ExpiresAt, so
// Redis reclaims stale entries even if no reader ever touches them again.
//
// When the server itself refuses a write for lack of memory (OOM /
// maxmemory), the store evicts its single oldest entry by CreatedAt and
// retries the write once.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// RedisStorageOption customizes RedisStorage.
type RedisStorageOption func(*RedisStorage)

// WithStoragePrefix overrides the Redis key prefix. Defaults to
// "trailguard:cache:".
func WithStoragePrefix(prefix string) RedisStorageOption {
	return func(s *RedisStorage) { s.prefix = prefix }
}

// NewRedisStorage creates a Redis-backed Storage.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisStorageOption) *RedisStorage {
	s := &RedisStorage{
		client: client,
		prefix: defaultRedisCachePrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Storage.
func (s *RedisStorage) Get(ctx context.Context, key string) (Entry, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache entry %q: %w", key, err)
	}
	return entry, true, nil
}

// Set implements Storage.
func (s *RedisStorage) Set(ctx context.Context, key string, entry Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry %q: %w", key, err)
	}

	expiry := time.Until(entry.ExpiresAt)
	if expiry <= 0 {
		expiry = time.Second
	}

	err = s.client.Set(ctx, s.prefix+key, b, expiry).Err()
	if err == nil || !isRedisOOM(err) {
		return err
	}

	// The server is full: make room by dropping our oldest entry, then
	// retry exactly once.
	if evictErr := s.evictOldest(ctx); evictErr != nil {
		return fmt.Errorf("evicting for %q after OOM: %w", key, evictErr)
	}
	return s.client.Set(ctx, s.prefix+key, b, expiry).Err()
}

// Delete implements Storage.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Clear implements Storage.
func (s *RedisStorage) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Keys implements Storage.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	return keys, nil
}

// Len implements Storage.
func (s *RedisStorage) Len(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStorage) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// evictOldest removes the entry with the earliest CreatedAt.
func (s *RedisStorage) evictOldest(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}

	var (
		oldestKey string
		oldestAt  time.Time
	)
	for _, k := range keys {
		b, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue // expired between scan and read
		}
		var entry Entry
		if err := json.Unmarshal(b, &entry); err != nil {
			continue
		}
		if oldestKey == "" || entry.CreatedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = entry.CreatedAt
		}
	}
	if oldestKey == "" {
		return fmt.Errorf("no evictable entries")
	}
	return s.client.Del(ctx, oldestKey).Err()
}

// isRedisOOM matches the server's out-of-memory refusal.
func isRedisOOM(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "oom") || strings.Contains(msg, "maxmemory")
}
