package oracle

import (
	"errors"
	"fmt"
)

// Classification sentinels a Caller reports instead of (or wrapped in) a
// transport error. The gateway routes each class to its own retry budget.
var (
	// ErrRateLimited marks a throttled call, retried on the backoff schedule.
	ErrRateLimited = errors.New("oracle: rate limited")
	// ErrTimeout marks a timed-out call, surfaced without retry.
	ErrTimeout = errors.New("oracle: timeout")
	// ErrRefused marks an outright refusal, surfaced without retry.
	ErrRefused = errors.New("oracle: refused")
)

// ValidationExhaustedError is returned when every validation attempt produced
// a malformed or schema-violating response.
type ValidationExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ValidationExhaustedError) Error() string {
	return fmt.Sprintf("oracle: response validation exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ValidationExhaustedError) Unwrap() error { return e.Last }

// ThrottleExhaustedError is returned when the full backoff schedule was spent
// on rate-limited calls.
type ThrottleExhaustedError struct {
	Attempts int
}

func (e *ThrottleExhaustedError) Error() string {
	return fmt.Sprintf("oracle: throttled on all %d attempts, backoff schedule exhausted", e.Attempts)
}

// OracleUnavailableError is returned for timeouts and refusals, which are
// never retried at this layer.
type OracleUnavailableError struct {
	Cause error
}

func (e *OracleUnavailableError) Error() string {
	return fmt.Sprintf("oracle: unavailable: %v", e.Cause)
}

func (e *OracleUnavailableError) Unwrap() error { return e.Cause }
