// Package breaker provides a per-endpoint circuit breaker registry with an
// explicit CLOSED → OPEN → HALF_OPEN state machine and optional durable
// persistence of breaker history.
//
// # Quick Start
//
// Create a registry and guard calls with Execute:
//
//	reg := breaker.NewRegistry(breaker.DefaultConfig())
//	defer reg.Destroy()
//
//	err := reg.Execute(ctx, "audit-events:GET", func() error {
//	    return callUpstream(ctx)
//	})
//	var open *breaker.OpenError
//	if errors.As(err, &open) {
//	    // Fast-failed; upstream is cooling down until open.NextRetry.
//	}
//
// # State Machine
//
// Each key starts CLOSED. Once at least MinimumRequestThreshold calls have
// been observed and FailureThreshold of them failed, the breaker trips OPEN
// and rejects calls until RecoveryTimeout elapses. The first call after the
// cooldown is admitted as a HALF_OPEN probe; its success closes the breaker,
// its failure re-opens it with a fresh cooldown. Failures older than
// MonitoringWindow roll off entirely so a stale incident cannot keep a
// breaker open forever.
//
// # Persistence
//
// An optional Persistence implementation saves breaker history after every
// mutation and restores it on startup, so a freshly restarted process does
// not immediately hammer an endpoint that was failing a minute ago. A
// Redis-backed implementation is provided via NewRedisPersistence.
//
// # Alternative Gates
//
// Callers who prefer sony/gobreaker semantics (failure-ratio tripping,
// distributed state via a shared store) can use NewSonyGate, which satisfies
// the same Gate interface consumed by the retry executor.
package breaker
