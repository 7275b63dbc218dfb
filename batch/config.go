package batch

import "time"

// Config holds the batching configuration.
// Use DefaultConfig() for balanced defaults, then modify as needed.
type Config struct {
	// Enabled toggles batching. When false, Add dispatches every request
	// individually and immediately.
	// Default: true
	Enabled bool

	// MaxBatchSize is the window capacity. Reaching it dispatches the
	// window immediately. A window never holds more entries than this.
	// Default: 10
	MaxBatchSize int

	// BatchTimeout is how long a window waits for more requests before
	// dispatching whatever it holds.
	// Default: 50ms
	BatchTimeout time.Duration

	// BatchableEndpoints restricts batching to the listed endpoints.
	// Empty means every endpoint may batch.
	BatchableEndpoints []string
}

// Default values for Config.
const (
	DefaultMaxBatchSize = 10
	DefaultBatchTimeout = 50 * time.Millisecond
)

// DefaultConfig returns balanced defaults: windows of up to 10 requests
// flushed after at most 50ms.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxBatchSize: DefaultMaxBatchSize,
		BatchTimeout: DefaultBatchTimeout,
	}
}

// DisabledConfig returns a configuration with batching switched off.
func DisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	return c
}

func (c Config) batchable(endpoint string) bool {
	if len(c.BatchableEndpoints) == 0 {
		return true
	}
	for _, e := range c.BatchableEndpoints {
		if e == endpoint {
			return true
		}
	}
	return false
}
