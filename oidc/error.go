package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNilParameter          = errors.New("nil parameter")
	ErrInvalidCACert         = errors.New("invalid CA certificate")
	ErrInvalidFlow           = errors.New("invalid flow")
	ErrIDGeneratorFailed     = errors.New("id generation failed")
	ErrMissingState          = errors.New("state is missing")
	ErrMissingCode           = errors.New("code is missing")
	ErrStateMismatch         = errors.New("state does not match stored control value")
	ErrMissingTokenEndpoint  = errors.New("token endpoint is missing")
	ErrConnectivity          = errors.New("no network connectivity")
	ErrRenewalTimeout        = errors.New("renewal timed out")
	ErrRetryExhausted        = errors.New("renewal retries exhausted")
	ErrMetadataNotCached     = errors.New("provider metadata not cached")
	ErrInvalidResponseFormat = errors.New("invalid token response format")
)

// TokenExchangeError represents a terminal failure of the code or refresh
// token exchange with a provider's token endpoint.  Connectivity losses are
// never wrapped into a TokenExchangeError; they are retried instead.
type TokenExchangeError struct {
	// Authority of the provider the exchange was attempted against
	Authority string

	// Err is the underlying cause (an HTTP status error or a non-connectivity
	// transport error)
	Err error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange with %q failed: %v", e.Authority, e.Err)
}

// Unwrap the underlying cause.
func (e *TokenExchangeError) Unwrap() error { return e.Err }

// HTTPStatusError represents a non-2xx response from the provider's token
// endpoint.  It is a terminal error (never a reason to retry).
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d: %s", e.StatusCode, string(e.Body))
}

// IsConnectivityError reports whether err indicates the device currently has
// no network connectivity, as opposed to an HTTP error status or any other
// failure.  Context cancellation is never treated as a connectivity loss, so
// callers can always abandon a retry loop.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrConnectivity) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || urlErr.Temporary()
	}
	return false
}
