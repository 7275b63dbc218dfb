package breaker

import "time"

// State is the circuit breaker state for a single key.
type State int32

const (
	// StateClosed is the normal state; calls flow through.
	StateClosed State = iota

	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen admits exactly one probe call to test recovery.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of one key's breaker history.
type Stats struct {
	State           State     `json:"state"`
	FailureCount    int64     `json:"failureCount"`
	SuccessCount    int64     `json:"successCount"`
	TotalRequests   int64     `json:"totalRequests"`
	LastFailureTime time.Time `json:"lastFailureTime"`
	NextRetryTime   time.Time `json:"nextRetryTime"`
}

// Record is the unit stored by a Persistence implementation: a stats
// snapshot plus the time it was saved, so restores can discard stale state.
type Record struct {
	Stats   Stats     `json:"stats"`
	SavedAt time.Time `json:"savedAt"`
}
