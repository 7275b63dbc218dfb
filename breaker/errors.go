package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen is the sentinel matched by errors.Is for any open-breaker
// rejection, regardless of which Gate implementation produced it.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by BeforeCall/Execute when the breaker rejects a
// call without invoking it. NextRetry tells the caller when the next probe
// will be admitted; callers must not retry an OpenError.
type OpenError struct {
	// Key identifies the breaker that rejected the call.
	Key string

	// NextRetry is the earliest time a probe call will be admitted.
	// Zero when the underlying gate does not expose its cooldown deadline
	// (e.g. the sony/gobreaker adapter).
	NextRetry time.Time
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	if e.NextRetry.IsZero() {
		return fmt.Sprintf("circuit breaker is open for %q", e.Key)
	}
	return fmt.Sprintf("circuit breaker is open for %q: next retry at %s", e.Key, e.NextRetry.Format(time.RFC3339))
}

// Is reports a match against ErrOpen so callers can use errors.Is without
// caring about the concrete type.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}
