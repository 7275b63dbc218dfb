// Package batch groups compatible pending requests bound for the same
// endpoint, method and query into a timed dispatch window.
//
// A window opens on the first request for its key and dispatches exactly
// once: either when it reaches MaxBatchSize (the timer is cancelled and
// dispatch happens immediately, off the caller's goroutine) or when
// BatchTimeout elapses, never both.
//
// Dispatch prefers a bulk translation when a BulkStrategy declares the
// endpoint bulk-capable: the whole window becomes one call and the per-index
// results fan back out positionally, preserving insertion order. When no
// strategy applies, or the bulk response is malformed, every request in
// the window is dispatched individually and concurrently with allsettled
// semantics: one failure never blocks the rest. A top-level bulk failure
// rejects every continuation in the window with that error.
//
// Bulk capability is a pluggable, server-negotiated strategy; the zero
// default declines everything.
//
//	coord := batch.New(batch.DefaultConfig(), dispatchOne)
//	defer coord.Destroy()
//
//	raw, err := coord.Add(ctx, batch.Request{
//	    Endpoint: "/events",
//	    Method:   "POST",
//	    Payload:  payload,
//	})
package batch
