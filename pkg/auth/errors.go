package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the session machine.
var (
	// ErrNoCredentials is returned when the identity or session token is missing.
	ErrNoCredentials = errors.New("no credentials")

	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAttemptsExhausted is returned when login gives up after max attempts.
	ErrAttemptsExhausted = errors.New("login attempts exhausted")

	// ErrSecondFactorFailed is returned when the second factor was not accepted.
	ErrSecondFactorFailed = errors.New("second factor failed")
)

// CodeSecondFactor is the API error code asking for a second factor.
const CodeSecondFactor = 101

// secondFactorMessage replaces the server message for CodeSecondFactor.
const secondFactorMessage = "Blocked by 2FA."

// terminalMarkers identify errors that no retry can fix without new credentials.
var terminalMarkers = []string{"token", "Code wrong", "Please refresh"}

// AuthError is a session-level error reported by the API.
type AuthError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error %d: %s", e.Code, e.Message)
}

// IsTerminal reports whether the message carries a terminal marker.
func (e *AuthError) IsTerminal() bool {
	for _, marker := range terminalMarkers {
		if strings.Contains(e.Message, marker) {
			return true
		}
	}
	return false
}

// NeedsSecondFactor reports whether the error asks for a 2FA code.
func (e *AuthError) NeedsSecondFactor() bool {
	return e.Code == CodeSecondFactor
}

func newAuthError(code int, message string) AuthError {
	if code == CodeSecondFactor {
		message = secondFactorMessage
	}
	return AuthError{Code: code, Message: message}
}
