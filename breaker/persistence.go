package breaker

import "context"

// Persistence durably stores breaker records so a restarted process can
// re-adopt recent breaker history instead of starting blind.
//
// Implementations must be safe for concurrent use. Errors are treated as
// non-fatal by the Registry: a failed Save is logged and the guarded call
// proceeds.
type Persistence interface {
	// Save stores the record under key, replacing any previous record.
	Save(ctx context.Context, key string, rec Record) error

	// Load returns the record for key. The bool is false when no record
	// exists.
	Load(ctx context.Context, key string) (Record, bool, error)

	// LoadAll returns every stored record keyed by breaker key.
	LoadAll(ctx context.Context) (map[string]Record, error)

	// Clear removes the record for key, if any.
	Clear(ctx context.Context, key string) error

	// ClearAll removes every stored record.
	ClearAll(ctx context.Context) error
}
