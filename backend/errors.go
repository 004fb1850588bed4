package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/lmsauth/middleware"
)

var (
	// ErrInvalidCredentials is returned by Login for any non-2xx answer.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch is returned by Login when the account's role differs
	// from the role the user signed in as.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrLoginRateLimited is returned by Login when the client-side budget is
	// spent. Nothing was sent.
	ErrLoginRateLimited = errors.New("too many login attempts")
	// ErrUnavailable wraps transport failures and an open circuit breaker.
	ErrUnavailable = errors.New("library backend unavailable")
)

// APIError is a non-2xx answer. Message is the response body, which the
// backend uses for human-readable reasons.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// serverFault reports whether err should count against the circuit breaker.
func serverFault(err error) bool {
	if errors.Is(err, middleware.ErrNoSession) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return err != nil
}
