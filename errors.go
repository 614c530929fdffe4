package anyauth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable, machine-readable classification for auth failures.
// Callers can render Code/Message directly; none of these imply a fatal
// process-level failure.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeMissingConfiguration ErrorCode = "MissingConfiguration"
	ErrCodeUnsupportedProvider  ErrorCode = "UnsupportedProvider"

	// Flow-security errors
	ErrCodeInvalidState ErrorCode = "InvalidState"
	ErrCodeInvalidNonce ErrorCode = "InvalidNonce"

	// User-initiated
	ErrCodeUserCancelled     ErrorCode = "UserCancelled"
	ErrCodePopupClosedByUser ErrorCode = "PopupClosedByUser"
	ErrCodePopupBlocked      ErrorCode = "PopupBlocked"

	// Network / remote
	ErrCodeNetworkError           ErrorCode = "NetworkError"
	ErrCodeServerError            ErrorCode = "ServerError"
	ErrCodeTemporarilyUnavailable ErrorCode = "TemporarilyUnavailable"
	ErrCodeTimeout                ErrorCode = "Timeout"

	// Credential errors
	ErrCodeInvalidCredentials  ErrorCode = "InvalidCredentials"
	ErrCodeTokenExpired        ErrorCode = "TokenExpired"
	ErrCodeInvalidGrant        ErrorCode = "InvalidGrant"
	ErrCodeNoAuthSession       ErrorCode = "NoAuthSession"
	ErrCodeInteractionRequired ErrorCode = "InteractionRequired"

	// Catch-all
	ErrCodeInternalError ErrorCode = "InternalError"
)

// knownCodes is the set of codes Classify will adopt from provider-reported
// errors carrying a Code field.
var knownCodes = map[ErrorCode]bool{
	ErrCodeMissingConfiguration:   true,
	ErrCodeUnsupportedProvider:    true,
	ErrCodeInvalidState:           true,
	ErrCodeInvalidNonce:           true,
	ErrCodeUserCancelled:          true,
	ErrCodePopupClosedByUser:      true,
	ErrCodePopupBlocked:           true,
	ErrCodeNetworkError:           true,
	ErrCodeServerError:            true,
	ErrCodeTemporarilyUnavailable: true,
	ErrCodeTimeout:                true,
	ErrCodeInvalidCredentials:     true,
	ErrCodeTokenExpired:           true,
	ErrCodeInvalidGrant:           true,
	ErrCodeNoAuthSession:          true,
	ErrCodeInteractionRequired:    true,
	ErrCodeInternalError:          true,
}

// AuthError is the error type surfaced by every public operation.
type AuthError struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Provider string    `json:"provider,omitempty"`

	// Err is the underlying cause, kept for debugging. It is never
	// required to interpret the error.
	Err error `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError creates a classified error for the given provider.
func NewAuthError(code ErrorCode, message string, provider string) *AuthError {
	return &AuthError{Code: code, Message: message, Provider: provider}
}

// WrapAuthError creates a classified error wrapping an underlying cause.
func WrapAuthError(code ErrorCode, message string, provider string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Provider: provider, Err: err}
}

// CodeOf returns the taxonomy code of err, or ErrCodeInternalError when err
// is not (and does not wrap) an AuthError.
func CodeOf(err error) ErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Code == code
}

// coder is implemented by provider SDK errors that report their own code.
type coder interface {
	AuthCode() string
}

// Classify normalizes any error into the taxonomy. Already-classified
// errors pass through unchanged. Otherwise the message is inspected for
// well-known substrings, then a provider-reported code is adopted if it is
// a recognized taxonomy value, and finally everything else becomes
// InternalError.
func Classify(provider string, err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		if ae.Provider == "" && provider != "" {
			ae.Provider = provider
		}
		return ae
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cancelled"), strings.Contains(msg, "canceled"):
		return WrapAuthError(ErrCodeUserCancelled, err.Error(), provider, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return WrapAuthError(ErrCodeTimeout, err.Error(), provider, err)
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return WrapAuthError(ErrCodeNetworkError, err.Error(), provider, err)
	}

	var c coder
	if errors.As(err, &c) {
		if code := ErrorCode(c.AuthCode()); knownCodes[code] {
			return WrapAuthError(code, err.Error(), provider, err)
		}
	}

	return WrapAuthError(ErrCodeInternalError, err.Error(), provider, err)
}
