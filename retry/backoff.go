package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var _ backoff.BackOff = (*FullJitterBackOff)(nil)

// FullJitterBackOff implements AWS-style full jitter on top of an
// exponentially growing base.
//
// Formula per attempt:
//
//	base  = min(InitialDelay × Multiplier^(attempt−1), MaxDelay)
//	delay = uniform(0, base)
//
// Drawing from the whole [0, base] range (rather than jittering around the
// base) spreads simultaneous retriers across the full interval, which is
// the most effective variant against synchronized retry storms.
//
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type FullJitterBackOff struct {
	// InitialDelay is the backoff base for the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff base.
	MaxDelay time.Duration

	// Multiplier controls exponential growth of the base.
	Multiplier float64

	// attempt counts retries since the last Reset.
	attempt int
}

// NewFullJitterBackOff creates a FullJitterBackOff from a Config.
func NewFullJitterBackOff(cfg Config) *FullJitterBackOff {
	cfg = cfg.withDefaults()
	return &FullJitterBackOff{
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.BackoffMultiplier,
	}
}

// Reset resets the backoff to initial state.
func (b *FullJitterBackOff) Reset() {
	b.attempt = 0
}

// NextBackOff returns a uniformly random delay in [0, base] where base
// grows exponentially with each call, capped at MaxDelay.
func (b *FullJitterBackOff) NextBackOff() time.Duration {
	base := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(b.attempt))
	if capped := float64(b.MaxDelay); base > capped {
		base = capped
	}
	b.attempt++

	//nolint:gosec // intentional weak rand for jitter (not cryptographic)
	return time.Duration(rand.Float64() * base)
}
