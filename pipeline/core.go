package pipeline

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/trailguard/trailguard-go/batch"
	"github.com/trailguard/trailguard-go/breaker"
	"github.com/trailguard/trailguard-go/cache"
	"github.com/trailguard/trailguard-go/coalesce"
	"github.com/trailguard/trailguard-go/ratelimit"
	"github.com/trailguard/trailguard-go/retry"
)

// ErrBatchingUnavailable is returned by Submit when the Core was built
// without a batch dispatch function.
var ErrBatchingUnavailable = errors.New("pipeline: no batch dispatch configured")

// Request identifies one logical operation. Endpoint and Method key the
// circuit breaker and rate limiter; Body and Query additionally key
// deduplication and the cache.
type Request struct {
	Endpoint  string
	Method    string
	RequestID string
	Query     url.Values
	Body      any

	// CacheKey overrides the content-derived cache key used by
	// ExecuteCached.
	CacheKey string

	// CacheTTL overrides the cache's default TTL for this request.
	CacheTTL time.Duration

	// CacheTags are attached to the cached value for tag invalidation.
	CacheTags []string
}

// Operation is the raw unit of work, typically a network call.
type Operation[T any] func(ctx context.Context) (T, error)

// Core composes the resilience components into one call path:
// rate limit, cache, dedup, then retry guarded by a circuit breaker.
type Core struct {
	cfg    Config
	logger zerolog.Logger

	breakers *breaker.Registry
	retries  *retry.Executor
	dedup    *coalesce.Coordinator
	batches  *batch.Coordinator
	cache    *cache.Manager
	limits   *ratelimit.Registry
	metrics  *metrics
}

// Option customizes a Core.
type Option func(*coreOptions)

type coreOptions struct {
	logger        zerolog.Logger
	meterProvider metric.MeterProvider
	cacheStorage  cache.Storage
	persistence   breaker.Persistence
	bulk          batch.BulkStrategy
	dispatch      batch.SingleDispatch
}

// WithLogger sets the logger for every component. Defaults to a no-op
// logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *coreOptions) { o.logger = logger }
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider. If not
// called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *coreOptions) { o.meterProvider = mp }
}

// WithCacheStorage installs a custom cache backend, e.g.
// cache.NewRedisStorage.
func WithCacheStorage(storage cache.Storage) Option {
	return func(o *coreOptions) { o.cacheStorage = storage }
}

// WithBreakerPersistence durably saves circuit breaker state; call
// Restore on startup to re-adopt it.
func WithBreakerPersistence(p breaker.Persistence) Option {
	return func(o *coreOptions) { o.persistence = p }
}

// WithBulkStrategy enables bulk translation of batch windows.
func WithBulkStrategy(s batch.BulkStrategy) Option {
	return func(o *coreOptions) { o.bulk = s }
}

// WithBatchDispatch supplies the wire-level dispatch used by Submit.
// Each dispatched request runs through the retry loop and circuit
// breaker. Without this option Submit returns ErrBatchingUnavailable.
func WithBatchDispatch(dispatch batch.SingleDispatch) Option {
	return func(o *coreOptions) { o.dispatch = dispatch }
}

// New creates a Core. The only error source is metric instrument
// registration.
func New(cfg Config, opts ...Option) (*Core, error) {
	o := coreOptions{
		logger:        zerolog.Nop(),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newMetrics(o.meterProvider.Meter(meterScope))
	if err != nil {
		return nil, err
	}

	if o.persistence != nil {
		cfg.Breaker.Persistence = o.persistence
	}

	c := &Core{
		cfg:     cfg,
		logger:  o.logger,
		metrics: m,
	}

	c.breakers = breaker.NewRegistry(cfg.Breaker, breaker.WithLogger(o.logger))
	c.retries = retry.New(cfg.Retry,
		retry.WithGate(c.breakers),
		retry.WithLogger(o.logger),
	)

	dedupOpts := []coalesce.Option{coalesce.WithLogger(o.logger)}
	if cfg.Dedup.TTL > 0 {
		dedupOpts = append(dedupOpts, coalesce.WithTTL(cfg.Dedup.TTL))
	}
	c.dedup = coalesce.New(dedupOpts...)

	cacheOpts := []cache.ManagerOption{cache.WithManagerLogger(o.logger)}
	if o.cacheStorage != nil {
		cacheOpts = append(cacheOpts, cache.WithStorage(o.cacheStorage))
	}
	c.cache = cache.NewManager(cfg.Cache, cacheOpts...)

	c.limits = ratelimit.NewRegistry(cfg.RateLimit, ratelimit.WithLogger(o.logger))

	if o.dispatch != nil {
		batchOpts := []batch.Option{batch.WithLogger(o.logger)}
		if o.bulk != nil {
			batchOpts = append(batchOpts, batch.WithBulkStrategy(o.bulk))
		}
		c.batches = batch.New(cfg.Batch, c.retriedDispatch(o.dispatch), batchOpts...)
	}

	return c, nil
}

// retriedDispatch wraps the wire dispatch so every batched request gets
// the same retry and breaker treatment as direct calls.
func (c *Core) retriedDispatch(dispatch batch.SingleDispatch) batch.SingleDispatch {
	return func(ctx context.Context, req batch.Request) (json.RawMessage, error) {
		rctx := retry.Context{Endpoint: req.Endpoint, Method: req.Method, RequestID: req.ID}
		return retry.Execute(ctx, c.retries, rctx, func(ctx context.Context) (json.RawMessage, error) {
			return dispatch(ctx, req)
		})
	}
}

// Execute runs op through rate limiting, deduplication and the retry
// loop. Concurrent content-identical requests share one execution.
func Execute[T any](ctx context.Context, c *Core, req Request, op Operation[T]) (T, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var zero T
	if err := c.limits.Acquire(ctx, req.Endpoint); err != nil {
		c.metrics.recordRequest(ctx, req, start, "rate_limited")
		return zero, err
	}

	rctx := retry.Context{Endpoint: req.Endpoint, Method: req.Method, RequestID: req.RequestID}
	run := func(ctx context.Context) (T, error) {
		return retry.Execute(ctx, c.retries, rctx, retry.Operation[T](op))
	}

	var (
		val    T
		shared bool
		err    error
	)
	if c.cfg.Dedup.Enabled {
		key := coalesce.Key(req.Endpoint, req.Method, req.Body, req.Query)
		val, shared, err = coalesce.Do(ctx, c.dedup, key, run)
	} else {
		val, err = run(ctx)
	}

	if shared {
		c.metrics.dedupCoalesced.Add(ctx, 1, endpointAttrs(req))
	}

	switch {
	case err == nil:
		c.metrics.recordRequest(ctx, req, start, "success")
	case errors.Is(err, breaker.ErrOpen):
		c.metrics.breakerRejections.Add(ctx, 1, endpointAttrs(req))
		c.metrics.recordRequest(ctx, req, start, "circuit_open")
	default:
		c.metrics.recordRequest(ctx, req, start, "error")
	}
	return val, err
}

// ExecuteCached is Execute behind a cache lookup: a fresh cached value
// short-circuits the whole pipeline, and a successful result is written
// back through the cache.
func ExecuteCached[T any](ctx context.Context, c *Core, req Request, op Operation[T]) (T, error) {
	key := req.CacheKey
	if key == "" {
		key = coalesce.Key(req.Endpoint, req.Method, req.Body, req.Query)
	}

	var cached T
	hit, err := c.cache.Get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("pipeline: cache read failed, proceeding uncached")
	}
	if hit {
		c.metrics.cacheHits.Add(ctx, 1, endpointAttrs(req))
		return cached, nil
	}
	c.metrics.cacheMisses.Add(ctx, 1, endpointAttrs(req))

	val, err := Execute(ctx, c, req, op)
	if err != nil {
		return val, err
	}

	var setOpts []cache.SetOption
	if req.CacheTTL > 0 {
		setOpts = append(setOpts, cache.WithTTL(req.CacheTTL))
	}
	if len(req.CacheTags) > 0 {
		setOpts = append(setOpts, cache.WithTags(req.CacheTags...))
	}
	if err := c.cache.Set(ctx, key, val, setOpts...); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("pipeline: cache write failed")
	}
	return val, nil
}

// Submit hands a request to the batch coordinator. Compatible requests
// arriving within the batch window go out as one dispatch.
func (c *Core) Submit(ctx context.Context, req batch.Request) (json.RawMessage, error) {
	if c.batches == nil {
		return nil, ErrBatchingUnavailable
	}
	if err := c.limits.Acquire(ctx, req.Endpoint); err != nil {
		return nil, err
	}
	return c.batches.Add(ctx, req)
}

// FlushAll dispatches every open batch window immediately.
func (c *Core) FlushAll() {
	if c.batches != nil {
		c.batches.FlushAll()
	}
}

// Restore re-adopts persisted circuit breaker state. Call once on
// startup when breaker persistence is configured.
func (c *Core) Restore(ctx context.Context) error {
	return c.breakers.Restore(ctx)
}

// Breakers exposes the circuit breaker registry for stats and manual
// resets.
func (c *Core) Breakers() *breaker.Registry { return c.breakers }

// Cache exposes the cache manager for invalidation and stats.
func (c *Core) Cache() *cache.Manager { return c.cache }

// RateLimits exposes the rate limiter registry.
func (c *Core) RateLimits() *ratelimit.Registry { return c.limits }

// Destroy tears every component down: open batch windows and pending
// dedup waiters are rejected, timers are cleared and the cache sweep
// stops.
func (c *Core) Destroy() {
	if c.batches != nil {
		c.batches.Destroy()
	}
	c.dedup.Destroy()
	c.breakers.Destroy()
	c.cache.Close()
}
