// Package pipeline wires the resilience components into one call path.
//
// A Core runs each operation through rate limiting, the cache,
// request deduplication, and a retry loop guarded by a circuit breaker.
// The individual components live in their own packages (ratelimit,
// cache, coalesce, retry, breaker, batch) and can be used standalone;
// Core is the batteries-included composition.
//
// Basic usage:
//
//	core := pipeline.New(pipeline.DefaultConfig())
//	defer core.Destroy()
//
//	events, err := pipeline.ExecuteCached(ctx, core,
//	    pipeline.Request{Endpoint: "/v1/events", Method: "GET"},
//	    func(ctx context.Context) ([]Event, error) {
//	        return api.ListEvents(ctx)
//	    })
package pipeline
