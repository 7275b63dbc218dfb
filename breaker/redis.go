package breaker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// defaultRedisPrefix namespaces breaker records in a shared Redis.
const defaultRedisPrefix = "trailguard:breaker:"

// redisScanCount is the COUNT hint passed to SCAN.
const redisScanCount = 100

// RedisPersistence stores breaker records in Redis as JSON values.
//
// Records are written with an expiry of twice the registry's RestoreMaxAge
// equivalent (1h by default via NewRedisPersistence), so abandoned keys age
// out of Redis on their own.
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cfg := breaker.DefaultConfig()
//	cfg.Persistence = breaker.NewRedisPersistence(rdb)
type RedisPersistence struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption customizes RedisPersistence.
type RedisOption func(*RedisPersistence)

// WithRedisPrefix overrides the key prefix. Defaults to
// "trailguard:breaker:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(p *RedisPersistence) { p.prefix = prefix }
}

// WithRedisTTL overrides the expiry applied to stored records.
// Defaults to 2h. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(p *RedisPersistence) { p.ttl = ttl }
}

// NewRedisPersistence creates a Redis-backed Persistence.
func NewRedisPersistence(client redis.UniversalClient, opts ...RedisOption) *RedisPersistence {
	p := &RedisPersistence{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    2 * time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Save implements Persistence.
func (p *RedisPersistence) Save(ctx context.Context, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("breaker: encoding record for %q: %w", key, err)
	}
	return p.client.Set(ctx, p.prefix+key, b, p.ttl).Err()
}

// Load implements Persistence.
func (p *RedisPersistence) Load(ctx context.Context, key string) (Record, bool, error) {
	b, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("breaker: decoding record for %q: %w", key, err)
	}
	return rec, true, nil
}

// LoadAll implements Persistence. It scans the key prefix, so it is meant
// for startup restore rather than hot paths.
func (p *RedisPersistence) LoadAll(ctx context.Context) (map[string]Record, error) {
	keys, err := p.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(keys))
	for _, k := range keys {
		rec, ok, err := p.Load(ctx, strings.TrimPrefix(k, p.prefix))
		if err != nil {
			return nil, err
		}
		if ok {
			out[strings.TrimPrefix(k, p.prefix)] = rec
		}
	}
	return out, nil
}

// Clear implements Persistence.
func (p *RedisPersistence) Clear(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.prefix+key).Err()
}

// ClearAll implements Persistence.
func (p *RedisPersistence) ClearAll(ctx context.Context) error {
	keys, err := p.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return p.client.Del(ctx, keys...).Err()
}

func (p *RedisPersistence) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := p.client.Scan(ctx, cursor, p.prefix+"*", redisScanCount).Result()
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
