package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailguard/trailguard-go/breaker"
)

// fastConfig keeps test retries near-instant.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func testCtx() Context {
	return Context{Endpoint: "/events", Method: "GET"}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	e := New(fastConfig())
	calls := 0

	v, err := Execute(context.Background(), e, testCtx(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	e := New(fastConfig())
	calls := 0

	v, err := Execute(context.Background(), e, testCtx(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &StatusError{Code: 503}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustionWrapsLastError(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	e := New(cfg)
	calls := 0

	_, err := Execute(context.Background(), e, testCtx(), func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Code: 503, Message: "still down"}
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "/events", exhausted.Context.Endpoint)
	assert.NotEmpty(t, exhausted.Context.RequestID)

	var status *StatusError
	require.ErrorAs(t, err, &status, "the last error must stay reachable through the wrapper")
	assert.Equal(t, 503, status.Code)
}

func TestExecute_FatalErrorNotRetried(t *testing.T) {
	e := New(fastConfig())
	calls := 0

	_, err := Execute(context.Background(), e, testCtx(), func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Code: 400, Message: "bad request"}
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, calls, "4xx outside the retryable set must fail on the first attempt")
}

func TestExecute_CancelledOperationNotRetried(t *testing.T) {
	e := New(fastConfig())
	calls := 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, e, testCtx(), func(ctx context.Context) (string, error) {
		calls++
		return "", ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecute_DisabledRunsOnceAndReturnsRaw(t *testing.T) {
	e := New(DisabledConfig())
	calls := 0
	boom := errors.New("boom")

	_, err := Execute(context.Background(), e, testCtx(), func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err, "with retries disabled the raw error comes back unwrapped")
}

func TestExecute_OpenBreakerSurfacesUnmodified(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.MinimumRequestThreshold = 1
	reg := breaker.NewRegistry(cfg)
	defer reg.Destroy()

	e := New(fastConfig(), WithGate(reg))
	rctx := testCtx()

	// Trip the breaker.
	_, err := Execute(context.Background(), e, rctx, func(ctx context.Context) (string, error) {
		return "", &StatusError{Code: 400}
	})
	require.Error(t, err)

	calls := 0
	_, err = Execute(context.Background(), e, rctx, func(ctx context.Context) (string, error) {
		calls++
		return "", nil
	})

	var open *breaker.OpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, rctx.Key(), open.Key)
	assert.False(t, open.NextRetry.IsZero())
	assert.Equal(t, 0, calls, "open breaker must not invoke the operation")

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "circuit-open is never wrapped as exhaustion")
}

func TestExecute_BreakerSeesEveryAttempt(t *testing.T) {
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 100
	cfg.MinimumRequestThreshold = 100
	reg := breaker.NewRegistry(cfg)
	defer reg.Destroy()

	rcfg := fastConfig()
	rcfg.MaxAttempts = 3
	e := New(rcfg, WithGate(reg))

	_, _ = Execute(context.Background(), e, testCtx(), func(ctx context.Context) (string, error) {
		return "", &StatusError{Code: 503}
	})

	stats, ok := reg.Stats(testCtx().Key())
	require.True(t, ok)
	assert.EqualValues(t, 3, stats.FailureCount)
	assert.EqualValues(t, 3, stats.TotalRequests)
}

func TestExecute_CustomBackOff(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	e := New(cfg, WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}))

	calls := 0
	_, err := Execute(context.Background(), e, testCtx(), func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Code: 502}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecuteAll_FailuresDoNotAbortOthers(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	e := New(cfg)

	var calls atomic.Int32
	ops := []Operation[string]{
		func(ctx context.Context) (string, error) { calls.Add(1); return "a", nil },
		func(ctx context.Context) (string, error) { calls.Add(1); return "", &StatusError{Code: 400} },
		func(ctx context.Context) (string, error) { calls.Add(1); return "c", nil },
	}
	rctxs := []Context{
		{Endpoint: "/a", Method: "GET"},
		{Endpoint: "/b", Method: "GET"},
		{Endpoint: "/c", Method: "GET"},
	}

	results := ExecuteAll(context.Background(), e, rctxs, ops)

	require.Len(t, results, 3)
	assert.True(t, results[0].Success())
	assert.Equal(t, "a", results[0].Value)
	assert.False(t, results[1].Success())
	assert.Equal(t, 1, results[1].Attempts)
	assert.True(t, results[2].Success())
	assert.Equal(t, "c", results[2].Value)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.TotalTime, time.Duration(0))
	}
}

func TestExecuteAll_Empty(t *testing.T) {
	e := New(fastConfig())
	assert.Empty(t, ExecuteAll[string](context.Background(), e, nil, nil))
}
