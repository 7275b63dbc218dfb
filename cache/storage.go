package cache

import (
	"context"
	"time"
)

// Entry is one stored cache value with its bookkeeping. Data holds the
// JSON-serialized value, gzipped when Compressed is true.
type Entry struct {
	Data         []byte    `json:"data"`
	Compressed   bool      `json:"compressed"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	AccessCount  int64     `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
	Tags         []string  `json:"tags,omitempty"`
}

// expired reports whether the entry is stale at now.
func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// hasAnyTag reports whether the entry carries at least one of the tags.
func (e Entry) hasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Storage is the pluggable backend contract. Implementations must be safe
// for concurrent use. TTL handling stays in the Manager; a backend only
// stores and returns entries (it may additionally expire them on its own,
// as the Redis backend does).
type Storage interface {
	// Get returns the entry for key. The bool is false when absent.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores the entry under key, replacing any previous entry.
	Set(ctx context.Context, key string, entry Entry) error

	// Delete removes the entry for key, if any.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Keys returns every stored key.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}
