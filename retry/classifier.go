package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/trailguard/trailguard-go/breaker"
)

// Outcome is the tagged classification of a failed attempt. Every error
// maps to exactly one outcome, consumed uniformly by the retry loop.
type Outcome int

const (
	// OutcomeFatal stops retrying; the error is not expected to resolve
	// on its own.
	OutcomeFatal Outcome = iota

	// OutcomeRetryable allows another attempt after backoff.
	OutcomeRetryable

	// OutcomeCircuitOpen means the circuit breaker rejected the call.
	// Never retried, surfaced to the caller unmodified.
	OutcomeCircuitOpen
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeRetryable:
		return "retryable"
	case OutcomeCircuitOpen:
		return "circuit-open"
	default:
		return "fatal"
	}
}

// StatusCoder is implemented by errors that carry an HTTP-ish status code.
// The classifier uses it to match against RetryableStatusCodes.
type StatusCoder interface {
	StatusCode() int
}

// StatusError is a ready-made StatusCoder for callers whose operations
// talk to an HTTP API.
type StatusError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Message)
}

// StatusCode implements StatusCoder.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Classify maps err to an Outcome under cfg.
//
// An error is retryable iff it carries a status in RetryableStatusCodes,
// is a timeout, or matches a transient network condition (typed check
// first, configured text patterns as fallback). Cancellation and
// open-breaker rejections are never retryable; everything unrecognized is
// fatal.
func Classify(err error, cfg Config) Outcome {
	if err == nil {
		return OutcomeFatal
	}

	if errors.Is(err, breaker.ErrOpen) {
		return OutcomeCircuitOpen
	}

	// Intentional cancellation must win over every transient check: a
	// cancelled dial also looks like a timeout.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeFatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		for _, code := range cfg.RetryableStatusCodes {
			if sc.StatusCode() == code {
				return OutcomeRetryable
			}
		}
		return OutcomeFatal
	}

	if isTimeout(err) || isTransientNetworkError(err) {
		return OutcomeRetryable
	}

	if matchesPattern(err, cfg.RetryableErrors) {
		return OutcomeRetryable
	}

	return OutcomeFatal
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// NXDOMAIN is permanent; only transient DNS failures retry.
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE)
}

func matchesPattern(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
