package cache

import "fmt"

// Error wraps a backend failure. Cache errors are non-fatal: the caller
// logs them and proceeds to the origin uncached.
type Error struct {
	// Op is the manager operation that failed ("get", "set", ...).
	Op string

	// Key is the caller's key, without the configured prefix.
	Key string

	// Err is the backend's error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the backend's error.
func (e *Error) Unwrap() error {
	return e.Err
}
