package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a 401 survives the single token refresh,
// or when no Authorizer is configured to attempt one.
var ErrUnauthorized = errors.New("httpclient: unauthorized")

// APIError is a non-2xx response. Body is kept so callers can inspect the
// provider's validation message.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, truncate(e.Body, 512))
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsNotFound reports a 404 from the provider.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
