package cache

import "time"

// Config holds the cache configuration.
// Use DefaultConfig() for balanced defaults, then modify as needed.
type Config struct {
	// Enabled toggles the cache. When false, Get always misses and Set is
	// a no-op.
	// Default: true
	Enabled bool

	// DefaultTTL applies to Set calls without an explicit WithTTL.
	// Default: 5m
	DefaultTTL time.Duration

	// MaxSize bounds the default in-memory backend. Ignored when a
	// custom Storage is installed.
	// Default: 1000
	MaxSize int

	// KeyPrefix namespaces every key before it reaches the backend.
	// Useful when several caches share one Redis.
	KeyPrefix string

	// CompressionEnabled gzips serialized values larger than
	// CompressionThreshold.
	// Default: false
	CompressionEnabled bool

	// CompressionThreshold is the minimum serialized size, in bytes,
	// before compression kicks in.
	// Default: 1024
	CompressionThreshold int

	// CleanupInterval is the period of the background sweep that removes
	// expired entries. Zero disables the sweep; expired entries are then
	// only removed lazily on read.
	// Default: 1m
	CleanupInterval time.Duration
}

// Default values for Config.
const (
	DefaultTTL                  = 5 * time.Minute
	DefaultMaxSize              = 1000
	DefaultCompressionThreshold = 1024
	DefaultCleanupInterval      = time.Minute
)

// DefaultConfig returns balanced defaults: 5 minute TTL, 1000 entries in
// memory, background sweep every minute, compression off.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		DefaultTTL:           DefaultTTL,
		MaxSize:              DefaultMaxSize,
		CompressionThreshold: DefaultCompressionThreshold,
		CleanupInterval:      DefaultCleanupInterval,
	}
}

// DisabledConfig returns a configuration with the cache switched off.
func DisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	return c
}
