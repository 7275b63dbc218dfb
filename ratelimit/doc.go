// Package ratelimit provides a per-key token-bucket limiter registry.
//
// A Registry keeps one golang.org/x/time/rate limiter per key (typically
// an endpoint) and either waits for a token or fails fast with
// ErrRateLimited, depending on configuration.
//
// Basic usage:
//
//	reg := ratelimit.NewRegistry(ratelimit.DefaultConfig())
//
//	if err := reg.Acquire(ctx, "/v1/events"); err != nil {
//	    return err
//	}
//	// proceed with the request
package ratelimit
