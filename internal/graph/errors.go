// Package graph provides an HTTP client for the Microsoft Graph API with
// automatic retry, server-hint-aware backoff, a process-wide in-flight
// request cap, and error classification.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
)

// Sentinel errors for status classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrGone         = errors.New("graph: resource gone")
	ErrThrottled    = errors.New("graph: throttled")
	ErrServerError  = errors.New("graph: server error")
	ErrNetwork      = errors.New("graph: network failure")

	// ErrBadResponse marks a 2xx response whose body did not match the
	// expected shape. Distinct from ErrServerError so callers can tell a
	// parse failure from an outage.
	ErrBadResponse = errors.New("graph: unexpected response shape")
)

// APIError wraps a sentinel with the HTTP status, the request ID the
// service echoed back, and a sanitized message. The raw response body and
// headers never survive classification (they can carry tokens).
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
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
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a status code is retried under the primary
// budget: 429 (rate limited) and 503/504 (overload). Other 5xx are treated
// as terminal unless the caller whitelists them.
func isRetryable(code int, extra []int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return slices.Contains(extra, code)
	}
}

// bearerPattern matches bearer tokens wherever they leak into a message.
var bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)

// Sanitize strips credentials from a message before it is logged or
// propagated. Applied to every error message crossing the package boundary.
func Sanitize(msg string) string {
	return bearerPattern.ReplaceAllString(msg, "bearer [redacted]")
}

// odataError mirrors the Graph API error envelope.
type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// extractMessage pulls code and message out of a Graph error body,
// discarding everything else. Falls back to the sanitized raw body when
// the envelope does not parse.
func extractMessage(body []byte) string {
	var oe odataError
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error.Code != "" {
		return Sanitize(oe.Error.Code + ": " + oe.Error.Message)
	}

	const maxRawMessage = 512
	if len(body) > maxRawMessage {
		body = body[:maxRawMessage]
	}

	return Sanitize(string(body))
}
