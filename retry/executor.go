package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trailguard/trailguard-go/breaker"
)

// Operation is the asynchronous unit of work supplied by the caller,
// typically a raw network call. It must honor ctx cancellation.
type Operation[T any] func(ctx context.Context) (T, error)

// Context identifies one logical call sequence. Endpoint and Method key the
// circuit breaker; RequestID ties log lines together and is generated when
// empty.
type Context struct {
	Endpoint  string
	Method    string
	RequestID string
}

// Key returns the circuit breaker key for this context.
func (c Context) Key() string {
	return c.Endpoint + ":" + c.Method
}

// ExhaustedError is returned when every attempt failed. It wraps the last
// error; errors.Is/As reach through to it.
type ExhaustedError struct {
	// Attempts is the number of invocations actually made.
	Attempts int

	// Context is the request context the attempts ran under.
	Context Context

	// Err is the error from the final attempt.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted for %s after %d attempt(s): %v", e.Context.Key(), e.Attempts, e.Err)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Result is the per-item outcome of ExecuteAll.
type Result[T any] struct {
	Value     T
	Err       error
	Attempts  int
	TotalTime time.Duration
}

// Success reports whether the item resolved without error.
func (r Result[T]) Success() bool {
	return r.Err == nil
}

// Executor wraps operations with retry, classification and an optional
// circuit breaker gate. It is safe for concurrent use.
type Executor struct {
	cfg    Config
	gate   breaker.Gate
	logger zerolog.Logger

	// newBackOff builds a fresh strategy per call sequence.
	newBackOff func() backoff.BackOff
}

// Option customizes an Executor.
type Option func(*Executor)

// WithGate attaches a circuit breaker gate consulted before every attempt.
func WithGate(gate breaker.Gate) Option {
	return func(e *Executor) { e.gate = gate }
}

// WithLogger sets the logger for retry events. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithBackOff overrides the backoff strategy. The factory is invoked once
// per call sequence so strategies keep no shared state.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(e *Executor) { e.newBackOff = factory }
}

// New creates an Executor with the given configuration.
func New(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:    cfg.withDefaults(),
		logger: zerolog.Nop(),
	}
	e.newBackOff = func() backoff.BackOff { return NewFullJitterBackOff(e.cfg) }
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs op with retries under rctx.
//
// The circuit breaker, when attached, is consulted before every attempt; an
// open breaker surfaces as *breaker.OpenError without invoking op and is
// never retried. Exhaustion (and any terminal non-breaker failure) surfaces
// as *ExhaustedError wrapping the last error. With retries disabled, op
// runs exactly once and its outcome is returned as-is.
func Execute[T any](ctx context.Context, e *Executor, rctx Context, op Operation[T]) (T, error) {
	v, _, err := executeCounted(ctx, e, rctx, op)
	return v, err
}

// ExecuteAll runs each operation independently and concurrently. One item's
// failure never aborts the others; per-item outcomes, attempt counts and
// durations are reported positionally.
//
// rctxs and ops must be the same length.
func ExecuteAll[T any](ctx context.Context, e *Executor, rctxs []Context, ops []Operation[T]) []Result[T] {
	results := make([]Result[T], len(ops))

	var g errgroup.Group
	for i := range ops {
		g.Go(func() error {
			var rctx Context
			if i < len(rctxs) {
				rctx = rctxs[i]
			}
			start := time.Now()
			v, attempts, err := executeCounted(ctx, e, rctx, ops[i])
			results[i] = Result[T]{
				Value:     v,
				Err:       err,
				Attempts:  attempts,
				TotalTime: time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func executeCounted[T any](ctx context.Context, e *Executor, rctx Context, op Operation[T]) (T, int, error) {
	if rctx.RequestID == "" {
		rctx.RequestID = uuid.NewString()
	}
	key := rctx.Key()

	attempts := 0
	attempt := func() (T, error) {
		attempts++
		var v T
		err := e.throughGate(ctx, key, func() error {
			var opErr error
			v, opErr = op(ctx)
			return opErr
		})
		return v, err
	}

	if !e.cfg.Enabled {
		v, err := attempt()
		return v, attempts, err
	}

	operation := func() (T, error) {
		v, err := attempt()
		if err == nil {
			return v, nil
		}
		if Classify(err, e.cfg) == OutcomeRetryable {
			return v, err
		}
		return v, backoff.Permanent(err)
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithNotify(func(attemptErr error, next time.Duration) {
			e.logger.Debug().
				Str("endpoint", rctx.Endpoint).
				Str("method", rctx.Method).
				Str("requestId", rctx.RequestID).
				Int("attempt", attempts).
				Dur("nextDelay", next).
				Err(attemptErr).
				Msg("retry: attempt failed")
		}),
	)
	if err == nil {
		return v, attempts, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	// Circuit-open rejections surface unmodified so callers can read the
	// cooldown deadline off the error.
	if errors.Is(err, breaker.ErrOpen) {
		return v, attempts, err
	}

	return v, attempts, &ExhaustedError{Attempts: attempts, Context: rctx, Err: err}
}

// throughGate runs fn under the breaker gate, or directly when none is
// attached.
func (e *Executor) throughGate(ctx context.Context, key string, fn func() error) error {
	if e.gate == nil {
		return fn()
	}
	return e.gate.Execute(ctx, key, fn)
}
