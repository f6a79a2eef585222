// Package transport provides the authenticated HTTP client for the vpanel API.
// It attaches the stored access token to every request, refreshes the token
// at most once per refresh cycle no matter how many requests fail at the same
// time, and replays the requests that were waiting on that refresh.
package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, transport.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("transport: bad request")
	ErrUnauthorized = errors.New("transport: unauthorized")
	ErrForbidden    = errors.New("transport: forbidden")
	ErrNotFound     = errors.New("transport: not found")
	ErrConflict     = errors.New("transport: conflict")
	ErrTooLarge     = errors.New("transport: payload too large")
	ErrThrottled    = errors.New("transport: throttled")
	ErrServerError  = errors.New("transport: server error")
	ErrUnexpected   = errors.New("transport: unexpected status")
)

var (
	// ErrTransport marks failures below HTTP: DNS, connection resets,
	// timeouts. The request may or may not have reached the server.
	ErrTransport = errors.New("transport: request failed")

	// ErrSessionExpired means the refresh exchange failed. The session store
	// has been cleared and the user must log in again. Every request that
	// was waiting on the failed refresh receives this same error.
	ErrSessionExpired = errors.New("transport: session expired, login required")

	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: client closed")
)

// APIError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("transport: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpected
	}
}

// IsTransient reports whether err is worth retrying by a caller that owns a
// retry budget (the chunk uploader). Network failures, timeouts, throttling
// and 5xx are transient; authorization and other 4xx are structural.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransport) {
		return true
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// serverMessage extracts a human-readable message from a vpanel error body
// ({"error": true, "message": "..."}). Falls back to the raw body.
func serverMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
	}

	if err := decodeJSON(body, &env); err == nil && env.Message != "" {
		return env.Message
	}

	return string(body)
}
