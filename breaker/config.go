package breaker

import "time"

// Config holds the circuit breaker thresholds.
// Use DefaultConfig() for balanced defaults, then modify as needed.
//
// Key concepts:
//   - FailureThreshold: failures required (within the monitoring window)
//     before the breaker may trip.
//   - MinimumRequestThreshold: total calls required before failure counts
//     are meaningful. Prevents a single early failure from tripping a
//     breaker that has barely been exercised.
//   - RecoveryTimeout: how long an OPEN breaker rejects calls before
//     admitting a HALF_OPEN probe.
//   - MonitoringWindow: failures older than this roll off entirely,
//     closing the breaker and zeroing its counters.
type Config struct {
	// Enabled toggles the breaker. When false, BeforeCall always allows
	// and success/failure reports are ignored.
	// Default: true
	Enabled bool

	// FailureThreshold is the number of failures that trips the breaker
	// once MinimumRequestThreshold has been met.
	// Default: 5
	FailureThreshold int64

	// MinimumRequestThreshold is the minimum number of total calls before
	// the breaker is allowed to trip.
	// Default: 10
	MinimumRequestThreshold int64

	// RecoveryTimeout is the cooldown applied when the breaker opens.
	// While it has not elapsed, calls fail fast with *OpenError.
	// Default: 60s
	RecoveryTimeout time.Duration

	// MonitoringWindow bounds how long recorded failures stay relevant.
	// If the most recent failure is older than this window, counters reset
	// and an OPEN breaker closes.
	// Default: 10m
	MonitoringWindow time.Duration

	// Persistence, when non-nil, durably saves breaker history after every
	// mutation and allows Restore to re-adopt it on startup. Persistence
	// failures are logged and never fail the guarded call.
	Persistence Persistence

	// RestoreMaxAge bounds how old a persisted record may be before
	// Restore discards it.
	// Default: 1h
	RestoreMaxAge time.Duration

	// OnStateChange is invoked (outside the per-key lock) whenever a key
	// transitions between states.
	OnStateChange func(key string, from, to State)
}

// Default values for Config.
const (
	DefaultFailureThreshold        = 5
	DefaultMinimumRequestThreshold = 10
	DefaultRecoveryTimeout         = 60 * time.Second
	DefaultMonitoringWindow        = 10 * time.Minute
	DefaultRestoreMaxAge           = time.Hour
)

// DefaultConfig returns balanced defaults for general use.
//
// Configuration:
//   - trips after 5 failures out of at least 10 calls
//   - 60s cooldown before a recovery probe
//   - 10m monitoring window
//   - persisted records older than 1h are discarded on restore
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		FailureThreshold:        DefaultFailureThreshold,
		MinimumRequestThreshold: DefaultMinimumRequestThreshold,
		RecoveryTimeout:         DefaultRecoveryTimeout,
		MonitoringWindow:        DefaultMonitoringWindow,
		RestoreMaxAge:           DefaultRestoreMaxAge,
	}
}

// DisabledConfig returns a configuration with the breaker switched off.
// Every call is allowed and no history is recorded.
func DisabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

// withDefaults fills zero-valued fields with package defaults.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.MinimumRequestThreshold <= 0 {
		c.MinimumRequestThreshold = DefaultMinimumRequestThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = DefaultMonitoringWindow
	}
	if c.RestoreMaxAge <= 0 {
		c.RestoreMaxAge = DefaultRestoreMaxAge
	}
	return c
}
