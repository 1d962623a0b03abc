package spotify

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the client and the session layers above it.
var (
	// ErrNotConnected indicates no token set is loaded.
	ErrNotConnected = errors.New("not connected")

	// ErrNoRefreshToken indicates the session cannot be silently renewed.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrUnauthorized indicates the remote rejected the session even after a
	// refresh retry; the session has been torn down.
	ErrUnauthorized = errors.New("session no longer authorized")

	// ErrNoDevice indicates the remote account has zero playback devices.
	ErrNoDevice = errors.New("no playback devices available")

	// ErrNoActiveDevice indicates a playback command was rejected with 404
	// despite activation appearing to succeed.
	ErrNoActiveDevice = errors.New("no active playback device")

	// ErrStateMismatch indicates a callback whose state parameter does not
	// match the pending authorization transaction.
	ErrStateMismatch = errors.New("authorization state mismatch")
)

// ConfigError reports missing or malformed client configuration. It is fatal
// to any authorization attempt and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// TokenError reports a rejected token-endpoint grant. Grant is either
// "authorization_code" or "refresh_token"; Body carries the remote
// diagnostic detail verbatim.
type TokenError struct {
	Grant      string
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s grant rejected: status %d: %s", e.Grant, e.StatusCode, e.Body)
}

// TransferError reports a device transfer rejected for a reason other than
// device-not-found.
type TransferError struct {
	DeviceID   string
	StatusCode int
	Message    string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transferring playback to device %s: status %d: %s", e.DeviceID, e.StatusCode, e.Message)
}

// APIError is a non-2xx response from the session-scoped REST API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404-class API response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
