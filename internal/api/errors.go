package api

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned without touching the network when no
// access token is available.
var ErrUnauthenticated = errors.New("no access token")

// AuthError indicates that the server rejected the bearer token.
// It is returned by the client when a 401 response is received.
type AuthError struct {
	BaseURL string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (401) for %s", e.BaseURL)
	}
	return fmt.Sprintf("authentication failed (401) for %s: %s", e.BaseURL, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusError is a non-2xx response other than 401 and 429.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int

	// Message is the server's error text when the body carried one.
	Message string

	// Body is the raw response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf(
			"server error (%d) on %s %s: %s",
			e.StatusCode, e.Method, e.Path, e.Message,
		)
	}
	return fmt.Sprintf(
		"unexpected status %d on %s %s: %s",
		e.StatusCode, e.Method, e.Path, e.Body,
	)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is
// not a StatusError.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
