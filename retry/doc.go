// Package retry executes asynchronous operations with bounded, jittered
// retries, tagged error classification, and circuit breaker integration.
//
// # Quick Start
//
//	exec := retry.New(retry.DefaultConfig(), retry.WithGate(registry))
//
//	events, err := retry.Execute(ctx, exec,
//	    retry.Context{Endpoint: "/events", Method: "GET"},
//	    func(ctx context.Context) ([]Event, error) {
//	        return fetchEvents(ctx)
//	    })
//
// On exhaustion the caller receives *ExhaustedError carrying the attempt
// count, the last error, and the request context. An open circuit breaker
// surfaces unmodified as *breaker.OpenError and is never retried.
//
// # Backoff
//
// Delays use full jitter: the base grows exponentially and is capped, and
// the actual wait is drawn uniformly from [0, base]. Plain exponential
// backoff across many concurrent clients synchronizes into retry storms;
// the randomization is not optional.
//
// # Classification
//
// Classify maps an error to exactly one Outcome: Retryable (configured
// status codes, transient network failures, timeouts), Fatal (other status
// codes, cancellation, everything unrecognized), or CircuitOpen (never
// retried, surfaced as-is). Errors from HTTP-shaped operations expose their
// status through the StatusCoder interface; StatusError is a ready-made
// implementation.
package retry
