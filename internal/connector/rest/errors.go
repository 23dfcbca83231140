package rest

import (
	"fmt"
	"time"
)

// RateLimited is returned when GitHub's own rate limit (not C2's governor)
// is exhausted; Reset is when the provider's window refreshes.
type RateLimited struct {
	Reset time.Time
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("github: rate limit exceeded, resets at %s", e.Reset.Format(time.RFC3339))
}

// NotFound wraps a 404 response.
type NotFound struct {
	Resource string
}

func (e *NotFound) Error() string { return fmt.Sprintf("github: %s not found", e.Resource) }

// AuthFailed wraps a 401/403 that is not a rate-limit response.
type AuthFailed struct {
	Message string
}

func (e *AuthFailed) Error() string { return fmt.Sprintf("github: auth failed: %s", e.Message) }

// Validation wraps a 422 schema/validation error.
type Validation struct {
	Message string
	Errors  []string
}

func (e *Validation) Error() string { return fmt.Sprintf("github: validation failed: %s", e.Message) }

// ServerError wraps a 5xx response after retries are exhausted.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("github: server error %d: %s", e.Status, e.Message)
}

// Transport wraps a network-level failure.
type Transport struct {
	Err error
}

func (e *Transport) Error() string { return fmt.Sprintf("github: transport error: %v", e.Err) }
func (e *Transport) Unwrap() error { return e.Err }

// errorKind names an error's spec.md §4.7 classification, used to tag
// synthetic error DataItems.
func errorKind(err error) string {
	switch err.(type) {
	case *RateLimited:
		return "rate_limit_exceeded"
	case *NotFound:
		return "not_found"
	case *AuthFailed:
		return "auth_failed"
	case *Validation:
		return "validation"
	case *ServerError:
		return "server_error"
	case *Transport:
		return "transport"
	default:
		return "general_error"
	}
}
