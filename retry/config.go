package retry

import "time"

// Config holds the retry behavior configuration.
// Use DefaultConfig() for balanced defaults, then modify as needed.
type Config struct {
	// Enabled toggles retries. When false, Execute runs the operation
	// exactly once and returns its outcome as-is (still consulting the
	// circuit breaker, if any).
	// Default: true
	Enabled bool

	// MaxAttempts is the total number of invocations, the first attempt
	// included. Must be at least 1.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the backoff base for the first retry. Subsequent
	// bases grow by BackoffMultiplier.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the backoff base. The actual wait is drawn uniformly
	// from [0, base], so it never exceeds MaxDelay either.
	// Default: 30s
	MaxDelay time.Duration

	// BackoffMultiplier controls exponential growth of the backoff base.
	// Default: 2.0
	BackoffMultiplier float64

	// RetryableStatusCodes are the HTTP-ish status codes treated as
	// transient. Other statuses are fatal.
	// Default: 408, 429, 500, 502, 503, 504
	RetryableStatusCodes []int

	// RetryableErrors are lowercase substrings matched against error text
	// as a last-resort transient check, for errors that type-based checks
	// cannot reach (wrapped errors from third-party transports).
	// Default: DefaultRetryableErrors
	RetryableErrors []string
}

// Default values for Config.
const (
	DefaultMaxAttempts       = 3
	DefaultInitialDelay      = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// DefaultRetryableStatusCodes are the status codes retried by default.
func DefaultRetryableStatusCodes() []int {
	return []int{408, 429, 500, 502, 503, 504}
}

// DefaultRetryableErrors are the transient error text patterns matched by
// default.
func DefaultRetryableErrors() []string {
	return []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
	}
}

// DefaultConfig returns balanced defaults for general use: 3 attempts with
// full-jitter exponential backoff (bases 1s, 2s capped at 30s).
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxAttempts:          DefaultMaxAttempts,
		InitialDelay:         DefaultInitialDelay,
		MaxDelay:             DefaultMaxDelay,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
		RetryableErrors:      DefaultRetryableErrors(),
	}
}

// DisabledConfig returns a configuration with retries switched off.
func DisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.RetryableStatusCodes == nil {
		c.RetryableStatusCodes = DefaultRetryableStatusCodes()
	}
	if c.RetryableErrors == nil {
		c.RetryableErrors = DefaultRetryableErrors()
	}
	return c
}
