package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported payment method")
	ErrValidationRejected  = errors.New("payment validation rejected")
	ErrSignatureInvalid    = errors.New("invalid callback signature")
	ErrMalformedCallback   = errors.New("malformed callback")
	ErrUnknownOrder        = errors.New("unknown order")
)

// ProviderAuthError means a backend credential or token could not be obtained.
type ProviderAuthError struct {
	Provider string
	Err      error
}

func (e *ProviderAuthError) Error() string {
	return fmt.Sprintf("%s: failed to get access token: %v", e.Provider, e.Err)
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

// ProviderRequestError means a backend call failed at the transport level,
// answered with a non-success status, or returned an unexpected body.
type ProviderRequestError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderRequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Op, e.Body)
	}
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

// ValidationError is a business-rule rejection raised while checking a
// two-phase payment against the ledger. Code is the backend result code.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return "payment validation rejected: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidationRejected }

// IsRetryable reports whether err is transient: timeouts, refused or reset
// connections, throttling and 5xx answers. Retryable failures never mutate
// the ledger.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var reqErr *ProviderRequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == http.StatusTooManyRequests || reqErr.StatusCode >= 500
	}
	return false
}
