package pipeline

import (
	"time"

	"github.com/trailguard/trailguard-go/batch"
	"github.com/trailguard/trailguard-go/breaker"
	"github.com/trailguard/trailguard-go/cache"
	"github.com/trailguard/trailguard-go/ratelimit"
	"github.com/trailguard/trailguard-go/retry"
)

// DedupConfig configures request deduplication.
type DedupConfig struct {
	// Enabled toggles deduplication of content-identical concurrent
	// requests.
	// Default: true
	Enabled bool

	// TTL evicts a pending registration that has not settled in time.
	// Zero keeps registrations until they settle.
	TTL time.Duration
}

// Config aggregates every component's configuration. Zero values fall
// back to each component's defaults.
type Config struct {
	Retry     retry.Config
	Breaker   breaker.Config
	Cache     cache.Config
	Batch     batch.Config
	RateLimit ratelimit.Config
	Dedup     DedupConfig
}

// DefaultConfig returns every component's default configuration.
func DefaultConfig() Config {
	return Config{
		Retry:     retry.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		Batch:     batch.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Dedup:     DedupConfig{Enabled: true},
	}
}
