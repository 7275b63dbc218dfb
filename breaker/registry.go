package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Gate is the contract consumed by the retry executor: run fn under the
// breaker for key, reporting the outcome. An open breaker rejects with
// *OpenError (matching ErrOpen) without invoking fn; any other error is
// fn's own, passed through unchanged.
type Gate interface {
	Execute(ctx context.Context, key string, fn func() error) error
}

// Registry tracks breaker state per endpoint key. Entries are created
// lazily on first use and guarded by a per-key mutex, so concurrent calls
// can never both observe CLOSED and both cause the threshold-crossing
// transition without one being ordered first.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// now is swapped out in tests for deterministic clock control.
	now func() time.Time
}

type entry struct {
	mu sync.Mutex

	state           State
	failureCount    int64
	successCount    int64
	totalRequests   int64
	lastFailureTime time.Time
	nextRetryTime   time.Time

	// probeInFlight is true while the single HALF_OPEN probe has been
	// admitted but not yet reported.
	probeInFlight bool
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for persistence failures and state
// transitions. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry with the given configuration.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:     cfg.withDefaults(),
		logger:  zerolog.Nop(),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute implements Gate: it consults BeforeCall, runs fn if admitted, and
// reports the outcome.
func (r *Registry) Execute(ctx context.Context, key string, fn func() error) error {
	if err := r.BeforeCall(ctx, key); err != nil {
		return err
	}
	if err := fn(); err != nil {
		r.OnFailure(ctx, key)
		return err
	}
	r.OnSuccess(ctx, key)
	return nil
}

// BeforeCall decides whether a call to key may proceed.
//
// CLOSED allows. OPEN rejects with *OpenError until the recovery timeout
// elapses, at which point the breaker moves to HALF_OPEN and admits exactly
// one probe; further calls during the probe are rejected.
func (r *Registry) BeforeCall(ctx context.Context, key string) error {
	if !r.cfg.Enabled {
		return nil
	}

	e := r.entryFor(key)
	e.mu.Lock()
	now := r.now()
	from := e.state
	r.rolloverLocked(e, now)

	var reject *OpenError
	switch e.state {
	case StateClosed:
		// Allow.
	case StateOpen:
		if now.Before(e.nextRetryTime) {
			reject = &OpenError{Key: key, NextRetry: e.nextRetryTime}
			break
		}
		// Cooldown elapsed: admit this call as the recovery probe.
		e.state = StateHalfOpen
		e.probeInFlight = true
	case StateHalfOpen:
		if e.probeInFlight {
			reject = &OpenError{Key: key, NextRetry: e.nextRetryTime}
			break
		}
		e.probeInFlight = true
	}
	to := e.state
	rec := r.recordLocked(e)
	e.mu.Unlock()

	if to != from {
		r.notifyStateChange(key, from, to)
		r.persist(ctx, key, rec)
	}
	if reject != nil {
		return reject
	}
	return nil
}

// OnSuccess records a successful call to key. A HALF_OPEN probe success
// closes the breaker and zeroes the failure count.
func (r *Registry) OnSuccess(ctx context.Context, key string) {
	if !r.cfg.Enabled {
		return
	}

	e := r.entryFor(key)
	e.mu.Lock()
	from := e.state
	e.successCount++
	e.totalRequests++
	if e.state == StateHalfOpen {
		e.state = StateClosed
		e.failureCount = 0
		e.probeInFlight = false
		e.nextRetryTime = time.Time{}
	}
	to := e.state
	rec := r.recordLocked(e)
	e.mu.Unlock()

	if to != from {
		r.notifyStateChange(key, from, to)
	}
	r.persist(ctx, key, rec)
}

// OnFailure records a failed call to key. Once MinimumRequestThreshold
// calls have been observed and FailureThreshold of them failed, the breaker
// opens and sets its next retry time. A failed HALF_OPEN probe re-opens
// immediately with a fresh cooldown.
func (r *Registry) OnFailure(ctx context.Context, key string) {
	if !r.cfg.Enabled {
		return
	}

	e := r.entryFor(key)
	e.mu.Lock()
	now := r.now()
	from := e.state
	r.rolloverLocked(e, now)

	e.failureCount++
	e.totalRequests++
	e.lastFailureTime = now

	switch e.state {
	case StateHalfOpen:
		e.state = StateOpen
		e.nextRetryTime = now.Add(r.cfg.RecoveryTimeout)
		e.probeInFlight = false
	case StateClosed:
		if e.totalRequests >= r.cfg.MinimumRequestThreshold &&
			e.failureCount >= r.cfg.FailureThreshold {
			e.state = StateOpen
			e.nextRetryTime = now.Add(r.cfg.RecoveryTimeout)
		}
	}
	to := e.state
	rec := r.recordLocked(e)
	e.mu.Unlock()

	if to != from {
		r.notifyStateChange(key, from, to)
	}
	r.persist(ctx, key, rec)
}

// Stats returns a snapshot for key. The second return is false when the key
// has never been seen.
func (r *Registry) Stats(key string) (Stats, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return r.recordLocked(e).Stats, true
}

// Snapshot returns stats for every known key.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	out := make(map[string]Stats, len(keys))
	for _, k := range keys {
		if s, ok := r.Stats(k); ok {
			out[k] = s
		}
	}
	return out
}

// Reset clears the history for key and closes its breaker. The persisted
// record, if any, is cleared as well.
func (r *Registry) Reset(ctx context.Context, key string) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		e.mu.Lock()
		from := e.state
		e.state = StateClosed
		e.failureCount = 0
		e.successCount = 0
		e.totalRequests = 0
		e.lastFailureTime = time.Time{}
		e.nextRetryTime = time.Time{}
		e.probeInFlight = false
		e.mu.Unlock()
		if from != StateClosed {
			r.notifyStateChange(key, from, StateClosed)
		}
	}

	if r.cfg.Persistence != nil {
		if err := r.cfg.Persistence.Clear(ctx, key); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("breaker: clearing persisted state failed")
		}
	}
}

// Restore loads persisted breaker records and adopts every record younger
// than RestoreMaxAge. Call it once after construction, before serving
// traffic.
func (r *Registry) Restore(ctx context.Context) error {
	if r.cfg.Persistence == nil {
		return nil
	}

	records, err := r.cfg.Persistence.LoadAll(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	restored := 0
	for key, rec := range records {
		if now.Sub(rec.SavedAt) > r.cfg.RestoreMaxAge {
			continue
		}
		e := r.entryFor(key)
		e.mu.Lock()
		e.state = rec.Stats.State
		e.failureCount = rec.Stats.FailureCount
		e.successCount = rec.Stats.SuccessCount
		e.totalRequests = rec.Stats.TotalRequests
		e.lastFailureTime = rec.Stats.LastFailureTime
		e.nextRetryTime = rec.Stats.NextRetryTime
		e.probeInFlight = false
		e.mu.Unlock()
		restored++
	}

	r.logger.Debug().Int("restored", restored).Int("persisted", len(records)).
		Msg("breaker: restored persisted state")
	return nil
}

// Destroy drops all breaker entries. The registry may be reused afterwards;
// every key starts fresh.
func (r *Registry) Destroy() {
	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
}

func (r *Registry) entryFor(key string) *entry {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[key]; ok {
		return e
	}
	e = &entry{}
	r.entries[key] = e
	return e
}

// rolloverLocked resets counters when the most recent failure has aged out
// of the monitoring window. Prevents a stale incident from keeping a
// breaker open indefinitely. Caller holds e.mu.
func (r *Registry) rolloverLocked(e *entry, now time.Time) {
	if e.lastFailureTime.IsZero() {
		return
	}
	if now.Sub(e.lastFailureTime) <= r.cfg.MonitoringWindow {
		return
	}
	e.state = StateClosed
	e.failureCount = 0
	e.successCount = 0
	e.totalRequests = 0
	e.lastFailureTime = time.Time{}
	e.nextRetryTime = time.Time{}
	e.probeInFlight = false
}

func (r *Registry) recordLocked(e *entry) Record {
	return Record{
		Stats: Stats{
			State:           e.state,
			FailureCount:    e.failureCount,
			SuccessCount:    e.successCount,
			TotalRequests:   e.totalRequests,
			LastFailureTime: e.lastFailureTime,
			NextRetryTime:   e.nextRetryTime,
		},
		SavedAt: r.now(),
	}
}

// persist saves the record best-effort. Persistence failures must never
// fail the guarded call, so they are only logged.
func (r *Registry) persist(ctx context.Context, key string, rec Record) {
	if r.cfg.Persistence == nil {
		return
	}
	if err := r.cfg.Persistence.Save(ctx, key, rec); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("breaker: persisting state failed")
	}
}

func (r *Registry) notifyStateChange(key string, from, to State) {
	r.logger.Debug().Str("key", key).Stringer("from", from).Stringer("to", to).
		Msg("breaker: state change")
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(key, from, to)
	}
}
