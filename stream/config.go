package stream

import "time"

// BackpressurePolicy decides what happens when the outbound buffer is
// full.
type BackpressurePolicy string

const (
	// PolicyDrop discards the newest message and logs it. Send never
	// fails.
	PolicyDrop BackpressurePolicy = "drop"

	// PolicyBuffer refuses new enqueues until the buffer drains below
	// LowWaterMark. Send returns ErrBufferFull in the meantime.
	PolicyBuffer BackpressurePolicy = "buffer"

	// PolicyPause is an alias of PolicyBuffer kept for callers that
	// think of the condition as pausing the producer.
	PolicyPause BackpressurePolicy = "pause"

	// PolicyError fails the stream: the connection moves to
	// StateErrored and will not reconnect.
	PolicyError BackpressurePolicy = "error"
)

// Config holds the streaming configuration.
// Use DefaultConfig() for balanced defaults, then modify as needed.
type Config struct {
	// MaxConcurrentStreams caps connections per Manager. Creating past
	// the cap is a hard error.
	// Default: 10
	MaxConcurrentStreams int

	// ConnectTimeout bounds a single transport dial.
	// Default: 10s
	ConnectTimeout time.Duration

	// HeartbeatInterval is the ping period on transports that support
	// it. Zero disables heartbeats.
	// Default: 30s
	HeartbeatInterval time.Duration

	// Reconnect enables automatic reconnection after an unexpected
	// close or failed dial.
	// Default: true
	Reconnect bool

	// MaxReconnectAttempts bounds consecutive reconnect attempts. Once
	// exhausted the connection settles in StateErrored.
	// Default: 5
	MaxReconnectAttempts int

	// ReconnectDelay is the base reconnect delay; the actual delay is
	// min(ReconnectDelay * ReconnectBackoffMultiplier^attempts,
	// MaxReconnectDelay) with jitter.
	// Default: 1s
	ReconnectDelay time.Duration

	// ReconnectBackoffMultiplier grows the delay between attempts.
	// Default: 2.0
	ReconnectBackoffMultiplier float64

	// MaxReconnectDelay caps the computed reconnect delay.
	// Default: 30s
	MaxReconnectDelay time.Duration

	// MaxBufferSize bounds the outbound buffer; reaching it triggers
	// BackpressurePolicy and emits EventBackpressure.
	// Default: 1000
	MaxBufferSize int

	// HighWaterMark is the buffer length at which backpressure kicks
	// in. Lowering it below MaxBufferSize leaves headroom for the drop
	// policy to log before the buffer is hard-full.
	// Default: MaxBufferSize
	HighWaterMark int

	// LowWaterMark is the buffer length below which a backpressured
	// connection recovers and emits EventDrain.
	// Default: MaxBufferSize / 4
	LowWaterMark int

	// BackpressurePolicy selects the full-buffer behavior.
	// Default: PolicyBuffer
	BackpressurePolicy BackpressurePolicy
}

// Default values for Config.
const (
	DefaultMaxConcurrentStreams = 10
	DefaultConnectTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	DefaultReconnectMultiplier  = 2.0
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultMaxBufferSize        = 1000
)

// DefaultConfig returns balanced defaults: up to 10 streams, 30 second
// heartbeats, 5 reconnect attempts backing off from 1s to 30s, and a
// 1000-message outbound buffer that refuses writes when full.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams:       DefaultMaxConcurrentStreams,
		ConnectTimeout:             DefaultConnectTimeout,
		HeartbeatInterval:          DefaultHeartbeatInterval,
		Reconnect:                  true,
		MaxReconnectAttempts:       DefaultMaxReconnectAttempts,
		ReconnectDelay:             DefaultReconnectDelay,
		ReconnectBackoffMultiplier: DefaultReconnectMultiplier,
		MaxReconnectDelay:          DefaultMaxReconnectDelay,
		MaxBufferSize:              DefaultMaxBufferSize,
		BackpressurePolicy:         PolicyBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ReconnectBackoffMultiplier < 1 {
		c.ReconnectBackoffMultiplier = DefaultReconnectMultiplier
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.HighWaterMark <= 0 || c.HighWaterMark > c.MaxBufferSize {
		c.HighWaterMark = c.MaxBufferSize
	}
	if c.LowWaterMark <= 0 || c.LowWaterMark >= c.HighWaterMark {
		c.LowWaterMark = c.MaxBufferSize / 4
		if c.LowWaterMark < 1 {
			c.LowWaterMark = 1
		}
	}
	if c.BackpressurePolicy == "" {
		c.BackpressurePolicy = PolicyBuffer
	}
	return c
}
