// Package cache provides a response cache with pluggable storage backends,
// TTL expiry, tag/prefix/pattern invalidation, optional compression and
// access statistics.
//
// # Quick Start
//
//	mgr := cache.NewManager(cache.DefaultConfig())
//	defer mgr.Close()
//
//	_ = mgr.Set(ctx, "events:recent", events,
//	    cache.WithTTL(time.Minute),
//	    cache.WithTags("events"))
//
//	var cached []Event
//	hit, err := mgr.Get(ctx, "events:recent", &cached)
//
// Values are serialized to JSON on Set and decoded on Get, so any
// JSON-encodable type can be cached. Payloads above the compression
// threshold are gzipped transparently when compression is enabled.
//
// # Backends
//
// Storage is a small contract (get/set/delete/clear/keys/len) with three
// shipped implementations: an in-memory store that evicts the oldest
// inserted entry at capacity, an LRU store backed by
// hashicorp/golang-lru, and a Redis store that rides out the server's own
// out-of-memory condition by evicting its single oldest entry and
// retrying once.
//
// # Failure Policy
//
// The cache is an accelerator, never a gatekeeper: backend failures come
// back as *Error so callers can log them and proceed to the origin
// uncached.
package cache
