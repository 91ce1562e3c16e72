package gateway

import (
	"errors"
	"fmt"
)

// Error is returned when a provider rejects a call or is unreachable.
// It carries the provider's raw response for diagnostics.
type Error struct {
	Provider   string
	Op         string // "initialize", "verify", "token", "webhook-verify"
	StatusCode int    // HTTP status, 0 for transport failures
	Body       string // raw provider response body
	Err        error  // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Provider, e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a provider error from an HTTP response.
func NewError(provider, op string, statusCode int, body []byte) *Error {
	return &Error{Provider: provider, Op: op, StatusCode: statusCode, Body: string(body)}
}

// WrapError builds a provider error from a transport failure.
func WrapError(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Err: err}
}

// UnsupportedDriverError is returned when the registry is asked for a
// provider it does not know.
type UnsupportedDriverError struct {
	Name string
}

func (e *UnsupportedDriverError) Error() string {
	return fmt.Sprintf("payment driver %q not supported", e.Name)
}

// ErrWebhookAuthenticity marks a webhook whose signature check failed.
// Such webhooks are always rejected, never processed.
var ErrWebhookAuthenticity = errors.New("webhook signature verification failed")
