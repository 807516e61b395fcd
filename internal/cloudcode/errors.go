// Package cloudcode provides the Antigravity Cloud Code API client.
// This file contains error types and upstream error parsing.
package cloudcode

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is a 429 from an upstream endpoint. RetryAfter is the
// parsed server hint, zero when the server gave none.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s, retry after %s", e.Endpoint, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Endpoint)
}

// AuthError is a 401/403 from upstream
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream auth failure (%d): %s", e.StatusCode, e.Message)
}

// UpstreamError is any other non-2xx upstream status
type UpstreamError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d from %s: %s", e.StatusCode, e.Endpoint, truncate(e.Body, 200))
}

// Retryable reports whether the status is worth retrying on another
// endpoint
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode >= 500
}

// EmptyResponseError means the upstream returned 2xx with no usable content
type EmptyResponseError struct {
	Message string
}

func (e *EmptyResponseError) Error() string {
	return e.Message
}

// NewEmptyResponseError creates an EmptyResponseError
func NewEmptyResponseError(message string) *EmptyResponseError {
	return &EmptyResponseError{Message: message}
}

// IsRateLimit checks for a RateLimitError anywhere in the chain
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// IsAuthError checks for an AuthError anywhere in the chain
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsEmptyResponseError checks for an EmptyResponseError
func IsEmptyResponseError(err error) bool {
	var target *EmptyResponseError
	return errors.As(err, &target)
}

// ParseRetryAfter extracts the server's retry hint from a 429 response.
// Priority: Retry-After header, then the error body's retryDelay
// ("3s" strings and google.rpc.RetryInfo details). Returns zero when no
// hint is present.
func ParseRetryAfter(headers http.Header, body []byte) time.Duration {
	if h := headers.Get("Retry-After"); h != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(h); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}

	if len(body) == 0 {
		return 0
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0
	}
	return findRetryDelay(doc)
}

// findRetryDelay walks an error document for retryDelay values. Covers
// both the plain {"retryDelay":"3s"} form and google.rpc.RetryInfo
// details.
func findRetryDelay(value interface{}) time.Duration {
	switch v := value.(type) {
	case map[string]interface{}:
		if raw, ok := v["retryDelay"]; ok {
			if d := parseDelayValue(raw); d > 0 {
				return d
			}
		}
		if t, ok := v["@type"].(string); ok && strings.HasSuffix(t, "google.rpc.RetryInfo") {
			if d := parseDelayValue(v["retryDelay"]); d > 0 {
				return d
			}
		}
		for _, child := range v {
			if d := findRetryDelay(child); d > 0 {
				return d
			}
		}
	case []interface{}:
		for _, child := range v {
			if d := findRetryDelay(child); d > 0 {
				return d
			}
		}
	}
	return 0
}

// parseDelayValue handles "3s" strings and {"seconds": 3} objects
func parseDelayValue(raw interface{}) time.Duration {
	switch v := raw.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	case map[string]interface{}:
		if seconds, ok := v["seconds"].(float64); ok && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// UpstreamErrorMessage extracts a human-readable message from an
// upstream error body, falling back to the raw body
func UpstreamErrorMessage(body []byte) string {
	var doc struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err == nil && doc.Error.Message != "" {
		return doc.Error.Message
	}
	return truncate(string(body), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
