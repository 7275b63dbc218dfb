package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/trailguard/trailguard-go/batch"
	"github.com/trailguard/trailguard-go/breaker"
	"github.com/trailguard/trailguard-go/ratelimit"
	"github.com/trailguard/trailguard-go/retry"
)

type apiResponse struct {
	Items []string `json:"items"`
}

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Cache.CleanupInterval = 0
	cfg.Batch.BatchTimeout = 10 * time.Millisecond
	return cfg
}

func newTestCore(t *testing.T, cfg Config, opts ...Option) *Core {
	t.Helper()
	core, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(core.Destroy)
	return core
}

func TestExecuteSuccess(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	got, err := Execute(context.Background(), core,
		Request{Endpoint: "/v1/events", Method: "GET"},
		func(ctx context.Context) (apiResponse, error) {
			return apiResponse{Items: []string{"deploy"}}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, got.Items)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	var calls atomic.Int32
	got, err := Execute(context.Background(), core,
		Request{Endpoint: "/v1/events", Method: "GET"},
		func(ctx context.Context) (apiResponse, error) {
			if calls.Add(1) < 3 {
				return apiResponse{}, &retry.StatusError{Code: 503}
			}
			return apiResponse{Items: []string{"ok"}}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, got.Items)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteDeduplicatesConcurrentCalls(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	var calls atomic.Int32
	release := make(chan struct{})
	op := func(ctx context.Context) (apiResponse, error) {
		calls.Add(1)
		<-release
		return apiResponse{Items: []string{"shared"}}, nil
	}
	req := Request{Endpoint: "/v1/events", Method: "GET", Body: map[string]string{"q": "x"}}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]apiResponse, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Execute(context.Background(), core, req, op)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 },
		time.Second, time.Millisecond, "first caller should be in flight")
	time.Sleep(20 * time.Millisecond) // let the remaining callers join
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "all callers should share one execution")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"shared"}, results[i].Items)
	}
}

func TestExecuteDistinctBodiesDoNotCoalesce(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	var calls atomic.Int32
	op := func(ctx context.Context) (apiResponse, error) {
		calls.Add(1)
		return apiResponse{}, nil
	}

	for i := 0; i < 3; i++ {
		req := Request{Endpoint: "/v1/events", Method: "POST", Body: map[string]int{"page": i}}
		_, err := Execute(context.Background(), core, req, op)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteSurfacesOpenBreaker(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.MinimumRequestThreshold = 2
	cfg.Dedup.Enabled = false

	core := newTestCore(t, cfg)
	boom := func(ctx context.Context) (apiResponse, error) {
		return apiResponse{}, &retry.StatusError{Code: 500}
	}
	req := Request{Endpoint: "/v1/flaky", Method: "GET"}

	for i := 0; i < 2; i++ {
		_, err := Execute(context.Background(), core, req, boom)
		require.Error(t, err)
	}

	_, err := Execute(context.Background(), core, req, boom)
	assert.ErrorIs(t, err, breaker.ErrOpen)

	stats, ok := core.Breakers().Stats("/v1/flaky:GET")
	require.True(t, ok)
	assert.Equal(t, breaker.StateOpen, stats.State)
}

func TestExecuteRateLimited(t *testing.T) {
	cfg := fastTestConfig()
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 1
	cfg.RateLimit.WaitOnLimit = false

	core := newTestCore(t, cfg)
	op := func(ctx context.Context) (apiResponse, error) { return apiResponse{}, nil }
	req := Request{Endpoint: "/v1/events", Method: "GET"}

	_, err := Execute(context.Background(), core, req, op)
	require.NoError(t, err)

	_, err = Execute(context.Background(), core, req, op)
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestExecuteCached(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	var calls atomic.Int32
	op := func(ctx context.Context) (apiResponse, error) {
		calls.Add(1)
		return apiResponse{Items: []string{"cached"}}, nil
	}
	req := Request{Endpoint: "/v1/events", Method: "GET", CacheTags: []string{"events"}}

	first, err := ExecuteCached(context.Background(), core, req, op)
	require.NoError(t, err)
	second, err := ExecuteCached(context.Background(), core, req, op)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second call should be served from cache")

	// Tag invalidation forces a fresh fetch.
	removed, err := core.Cache().InvalidateByTags(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = ExecuteCached(context.Background(), core, req, op)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecuteCachedSkipsWriteOnError(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	var calls atomic.Int32
	op := func(ctx context.Context) (apiResponse, error) {
		calls.Add(1)
		return apiResponse{}, errors.New("permission denied")
	}
	req := Request{Endpoint: "/v1/events", Method: "GET"}

	_, err := ExecuteCached(context.Background(), core, req, op)
	require.Error(t, err)
	_, err = ExecuteCached(context.Background(), core, req, op)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "errors must not be cached")
}

func TestSubmitWithoutDispatch(t *testing.T) {
	core := newTestCore(t, fastTestConfig())

	_, err := core.Submit(context.Background(), batch.Request{Endpoint: "/v1/events", Method: "POST"})
	assert.ErrorIs(t, err, ErrBatchingUnavailable)
}

type countingBulk struct {
	dispatches atomic.Int32
}

func (b *countingBulk) CanBulk(string, string) bool { return true }

func (b *countingBulk) DispatchBulk(_ context.Context, reqs []batch.Request) ([]batch.BulkResult, error) {
	b.dispatches.Add(1)
	out := make([]batch.BulkResult, len(reqs))
	for i, req := range reqs {
		out[i] = batch.BulkResult{Value: json.RawMessage(fmt.Sprintf(`{"id":%q}`, req.ID))}
	}
	return out, nil
}

func TestSubmitBatchesCompatibleRequests(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Batch.MaxBatchSize = 3
	cfg.Batch.BatchTimeout = time.Second

	bulk := &countingBulk{}
	single := func(ctx context.Context, req batch.Request) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	core := newTestCore(t, cfg, WithBatchDispatch(single), WithBulkStrategy(bulk))

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := core.Submit(context.Background(), batch.Request{
				ID:       fmt.Sprintf("r%d", i),
				Endpoint: "/v1/events",
				Method:   "POST",
				Payload:  json.RawMessage(`{}`),
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), bulk.dispatches.Load(), "a full window should go out as one bulk call")
	for i := 0; i < 3; i++ {
		assert.JSONEq(t, fmt.Sprintf(`{"id":"r%d"}`, i), string(results[i]))
	}
}

func TestDestroyRejectsPendingBatch(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Batch.MaxBatchSize = 10
	cfg.Batch.BatchTimeout = time.Minute

	single := func(ctx context.Context, req batch.Request) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	core, err := New(cfg, WithBatchDispatch(single))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := core.Submit(context.Background(), batch.Request{Endpoint: "/v1/events", Method: "POST"})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return core.batches.Len() == 1 },
		time.Second, time.Millisecond)
	core.Destroy()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, batch.ErrCoordinatorClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending batch request was never rejected")
	}
}

func TestMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	core := newTestCore(t, fastTestConfig(), WithMeterProvider(provider))
	op := func(ctx context.Context) (apiResponse, error) { return apiResponse{}, nil }
	req := Request{Endpoint: "/v1/events", Method: "GET"}

	_, err := ExecuteCached(context.Background(), core, req, op)
	require.NoError(t, err)
	_, err = ExecuteCached(context.Background(), core, req, op)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := make(map[string]bool)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}
	assert.True(t, names["trailguard.requests.total"])
	assert.True(t, names["trailguard.request.duration"])
	assert.True(t, names["trailguard.cache.hits"])
	assert.True(t, names["trailguard.cache.misses"])
}
