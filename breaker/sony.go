package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a gobreaker SharedDataStore backed by Redis for
// distributed circuit breaking with SonyGate. When multiple instances share
// the store, one instance tripping a key trips it everywhere.
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	gate := breaker.NewSonyGate(breaker.DefaultConfig(),
//	    breaker.WithSharedStore(breaker.NewRedisStore(rdb)))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// sonyBreaker matches both the local and distributed gobreaker forms.
type sonyBreaker interface {
	Execute(req func() (any, error)) (any, error)
}

// SonyGate is a Gate backed by sony/gobreaker, one breaker per key.
//
// It exists for callers who prefer gobreaker's count-clearing semantics or
// need distributed breaker state through a SharedDataStore. Unlike
// Registry, it cannot report NextRetry on rejections and does not support
// the Persistence restore flow; OpenError.NextRetry is zero.
type SonyGate struct {
	cfg   Config
	store gobreaker.SharedDataStore

	mu       sync.Mutex
	breakers map[string]sonyBreaker
}

// SonyOption customizes a SonyGate.
type SonyOption func(*SonyGate)

// WithSharedStore makes the gate distributed: breaker state for every key
// lives in the shared store instead of process memory.
func WithSharedStore(store gobreaker.SharedDataStore) SonyOption {
	return func(g *SonyGate) { g.store = store }
}

// NewSonyGate creates a Gate backed by sony/gobreaker. The Config fields
// map onto gobreaker settings: MonitoringWindow becomes the count-clearing
// Interval, RecoveryTimeout becomes the open-state Timeout, and the breaker
// trips once MinimumRequestThreshold requests have been seen with
// FailureThreshold total failures.
func NewSonyGate(cfg Config, opts ...SonyOption) *SonyGate {
	g := &SonyGate{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]sonyBreaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute implements Gate.
func (g *SonyGate) Execute(ctx context.Context, key string, fn func() error) error {
	if !g.cfg.Enabled {
		return fn()
	}

	cb := g.breakerFor(key)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &OpenError{Key: key}
	}
	return err
}

func (g *SonyGate) breakerFor(key string) sonyBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[key]; ok {
		return cb
	}

	st := gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    g.cfg.MonitoringWindow,
		Timeout:     g.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= uint32(g.cfg.MinimumRequestThreshold) &&
				counts.TotalFailures >= uint32(g.cfg.FailureThreshold)
		},
	}
	if g.cfg.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			g.cfg.OnStateChange(name, sonyState(from), sonyState(to))
		}
	}

	var cb sonyBreaker
	if g.store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[any](g.store, st)
		if err != nil {
			// A local breaker is still better protection than none.
			cb = gobreaker.NewCircuitBreaker[any](st)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[any](st)
	}

	g.breakers[key] = cb
	return cb
}

func sonyState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
