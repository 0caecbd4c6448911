// Package backend provides the typed HTTP adapter over the reservation backend.
package backend

import "fmt"

// Domain error reason codes surfaced to the model.
const (
	CodeBackendRejected    = "backend_rejected"
	CodeBackendUnavailable = "backend_unavailable"
	CodeCodeNotFound       = "reservation_code_not_found"
)

// DomainError is a business rejection from the reservation backend (fully
// booked, unknown reservation code, ...). It is not retryable and is always
// fed back to the model as a function result so it can frame the problem for
// the user; the raw code never reaches the user directly.
type DomainError struct {
	Code   string
	Detail string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("backend domain error (%s): %s", e.Code, e.Detail)
}

// TransientError is a network-level failure talking to the backend
// (unreachable, timeout, 5xx). It is retryable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend %s transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
