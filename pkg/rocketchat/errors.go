// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"errors"
	"fmt"
)

// ErrAPI is matched by every error type of this package.
var ErrAPI = errors.New("rocketchat api error")

// ConfigurationError is returned by NewClient for a server URL that is not an
// absolute http(s) URL.
type ConfigurationError struct {
	URL    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid Rocket.Chat server url %q: %s", e.URL, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrAPI }

// NotAuthenticatedError is returned by Login when the server does not report
// a successful login.
type NotAuthenticatedError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *NotAuthenticatedError) Error() string {
	return fmt.Sprintf("login request to %s failed (status code %d): %s", e.URL, e.StatusCode, e.Body)
}

func (e *NotAuthenticatedError) Is(target error) bool { return target == ErrAPI }

// RequestFailedError is returned when a response status code differs from
// the expected one, when a JSON body cannot be decoded, or when a checked
// JSON success field is not set.
type RequestFailedError struct {
	Method     string
	URL        string
	StatusCode int
	Expected   int
	Body       string
	// Reason is set when the status matched but the payload could not be
	// decoded or did not report success.
	Reason string
}

func (e *RequestFailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s to %s failed: %s (status code %d): %s",
			e.Method, e.URL, e.Reason, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s to %s failed: got status code %d, expected %d: %s",
		e.Method, e.URL, e.StatusCode, e.Expected, e.Body)
}

func (e *RequestFailedError) Is(target error) bool { return target == ErrAPI }
