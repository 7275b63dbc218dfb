// Package coalesce merges concurrent, content-identical requests into a
// single underlying call.
//
// A request is identified by a content-derived key (endpoint, method,
// canonicalized body, sorted query). While a call for a key is in flight,
// every further caller with the same key joins it and observes the exact
// same settlement, value or error alike. The registration is removed
// before waiters are released, so a caller arriving after settlement always
// triggers a fresh call rather than reading a stale future.
//
//	c := coalesce.New()
//	defer c.Destroy()
//
//	key := coalesce.Key("/events", "GET", nil, query)
//	events, shared, err := coalesce.Do(ctx, c, key, func(ctx context.Context) ([]Event, error) {
//	    return fetchEvents(ctx)
//	})
//
// An optional TTL (WithTTL) drops a registration even if its call never
// settles, so one stuck call cannot pin a key forever. Destroy rejects all
// pending waiters with ErrCoordinatorClosed.
package coalesce
