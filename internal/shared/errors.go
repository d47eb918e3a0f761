package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrNoExpiryClaim    = fmt.Errorf("credential carries no expiry claim")

	// API and service errors
	ErrAPIRequest      = fmt.Errorf("API request failed")
	ErrRateLimited     = fmt.Errorf("rate limited")
	ErrServerError     = fmt.Errorf("server error")
	ErrNotFound        = fmt.Errorf("job not found")
	ErrJobNotTerminal  = fmt.Errorf("job has not finished")
	ErrJobFinished     = fmt.Errorf("job already finished")
	ErrStreamClosed    = fmt.Errorf("event stream closed")
	ErrSessionNotFound = fmt.Errorf("no stored session")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// AuthReason classifies an [AuthError].
type AuthReason string

const (
	ReasonInvalidCredentials AuthReason = "invalid-credentials"
	ReasonNetwork            AuthReason = "network"
	ReasonServer             AuthReason = "server"
	ReasonRefreshFailed      AuthReason = "refresh-failed"
	ReasonSessionExpired     AuthReason = "session-expired"
)

// AuthError reports a failure to obtain or keep a valid credential.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (%s): %v", ErrAuthFailed, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v (%s)", ErrAuthFailed, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches [ErrAuthFailed] so callers can test the whole class with [errors.Is].
func (e *AuthError) Is(target error) bool { return target == ErrAuthFailed }

// NetworkReason classifies a [NetworkError].
type NetworkReason string

const (
	ReasonTimeout     NetworkReason = "timeout"
	ReasonUnreachable NetworkReason = "unreachable"
)

// NetworkError reports a transport failure. A timeout is reported as a transport failure too.
type NetworkError struct {
	Reason NetworkReason
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s: %v", e.Reason, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a malformed-request error surfaced by the server, passed through unmodified.
type ValidationError struct {
	Status  int
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("validation failed: %s", e.Code)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Code, e.Message)
}

// AuthReasonOf returns the reason of the first [AuthError] in err's chain.
func AuthReasonOf(err error) (AuthReason, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return "", false
}

// IsAuthReason reports whether err carries an [AuthError] with the given reason.
func IsAuthReason(err error, reason AuthReason) bool {
	r, ok := AuthReasonOf(err)
	return ok && r == reason
}

// IsTransient reports whether err is worth one retry after a delay:
// transport failures, rate limiting and server errors.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}

// errorMessages maps server error codes to readable messages.
var errorMessages = map[string]string{
	"INVALID_FILE_TYPE":      "invalid file type, use CSV or XLSX only",
	"MISSING_COLUMNS":        "required columns are missing from the file",
	"TOO_MANY_ROWS":          "the file exceeds the row limit",
	"UNAUTHORIZED":           "not authorized, log in again",
	"PAYLOAD_TOO_LARGE":      "file too large",
	"UNSUPPORTED_MEDIA_TYPE": "unsupported content type",
	"ROW_VALIDATION_FAILED":  "one or more rows failed validation",
	"RATE_LIMITED":           "too many requests, try again later",
	"INTERNAL_ERROR":         "internal server error, try again",
}

// Describe renders err for a human. Server error codes with a known meaning
// use the friendly message unless the server sent a more specific one for
// MISSING_COLUMNS.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Code == "MISSING_COLUMNS" && ve.Message != "" {
			return ve.Message
		}
		if msg, ok := errorMessages[ve.Code]; ok {
			return msg
		}
		if ve.Message != "" {
			return ve.Message
		}
	}

	switch {
	case IsAuthReason(err, ReasonSessionExpired):
		return "session expired, log in again"
	case IsAuthReason(err, ReasonInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, ErrRateLimited):
		return errorMessages["RATE_LIMITED"]
	case errors.Is(err, ErrServerError):
		return "server error, try again later"
	case errors.Is(err, ErrNotFound):
		return "job not found"
	}

	var ne *NetworkError
	if errors.As(err, &ne) {
		if ne.Reason == ReasonTimeout {
			return "request timed out, try again"
		}
		return "connection error, check your network"
	}

	return err.Error()
}
