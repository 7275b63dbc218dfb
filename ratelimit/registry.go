package ratelimit

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request is rejected due to rate
// limiting.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter registry.
type Config struct {
	// Enabled toggles rate limiting. When false, Acquire always
	// succeeds immediately.
	// Default: true
	Enabled bool

	// RequestsPerSecond is the maximum sustained rate per key.
	// Default: 100
	RequestsPerSecond float64

	// Burst is the maximum number of requests allowed in a burst.
	// This allows brief spikes above the rate limit.
	// Default: 10
	Burst int

	// WaitOnLimit determines behavior when the limit is hit.
	// If true, Acquire waits for a token (respecting the context
	// deadline). If false, Acquire immediately returns ErrRateLimited.
	// Default: true
	WaitOnLimit bool

	// Overrides sets per-key rates that differ from the global one.
	Overrides map[string]Limit
}

// Limit is a per-key rate override.
type Limit struct {
	RequestsPerSecond float64
	Burst             int
}

// Default values for Config.
const (
	DefaultRequestsPerSecond = 100.0
	DefaultBurst             = 10
)

// DefaultConfig returns a sensible default: 100 requests per second with
// a burst of 10, waiting for tokens.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		WaitOnLimit:       true,
	}
}

// DisabledConfig returns a configuration with rate limiting switched
// off.
func DisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	return c
}

// Registry keeps one token-bucket limiter per key. Safe for concurrent
// use.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		logger:   zerolog.Nop(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire takes one token for key, waiting or failing fast per the
// configuration.
func (r *Registry) Acquire(ctx context.Context, key string) error {
	if !r.cfg.Enabled {
		return nil
	}

	limiter := r.getOrCreate(key)

	if r.cfg.WaitOnLimit {
		if err := limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			return ErrRateLimited
		}
		return nil
	}

	if !limiter.Allow() {
		r.logger.Debug().Str("key", key).Msg("ratelimit: rejected")
		return ErrRateLimited
	}
	return nil
}

// Allow reports whether one token is immediately available for key and
// consumes it if so.
func (r *Registry) Allow(key string) bool {
	if !r.cfg.Enabled {
		return true
	}
	return r.getOrCreate(key).Allow()
}

// Len returns the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// Reset forgets the limiter for key; the next Acquire starts a fresh
// bucket.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}

func (r *Registry) getOrCreate(key string) *rate.Limiter {
	r.mu.RLock()
	if limiter, ok := r.limiters[key]; ok {
		r.mu.RUnlock()
		return limiter
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if limiter, ok := r.limiters[key]; ok {
		return limiter
	}

	rps, burst := r.cfg.RequestsPerSecond, r.cfg.Burst
	if override, ok := r.cfg.Overrides[key]; ok {
		if override.RequestsPerSecond > 0 {
			rps = override.RequestsPerSecond
		}
		if override.Burst > 0 {
			burst = override.Burst
		}
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	r.limiters[key] = limiter
	return limiter
}
