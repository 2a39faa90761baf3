// Package api implements the single choke point for all network I/O against
// the storefront REST API. This file centralizes the transport failure
// taxonomy so callers can branch on error kinds with errors.As / errors.Is
// instead of string matching.
package api

import (
	"errors"
	"fmt"
	"time"
)

// Local precondition failures, raised before any network call is attempted.
var (
	// ErrAuthRequired is returned when an operation needs an authenticated
	// session and none is present.
	ErrAuthRequired = errors.New("authentication required")

	// ErrValidation is returned when a request fails a local precondition
	// (e.g. an empty coupon code or zero subtotal).
	ErrValidation = errors.New("invalid request input")
)

// TimeoutError indicates the request did not settle within the configured
// per-attempt timeout. Timeouts are retryable.
type TimeoutError struct {
	Endpoint string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.Endpoint, e.After)
}

// ClientError is an HTTP 4xx response. Client errors represent the caller's
// mistake, not transient failure, and are never retried.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ServerError is an HTTP 5xx response. Server errors are retryable and are
// additionally surfaced to the user as a generic failure toast.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// NetworkError indicates the request never produced an HTTP response
// (connection refused, DNS failure, reset). Network errors are retryable.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is an HTTP 401 client error.
func IsUnauthorized(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Status == 401
}
