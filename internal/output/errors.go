package output

import (
	"errors"
	"fmt"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

func ErrNotFoundHint(resource, identifier, hint string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
		Hint:    hint,
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: oauth1 auth login",
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

func ErrTokenRequest(cause error) *Error {
	return &Error{
		Code:    CodeTokenRequest,
		Message: "Could not obtain a request token",
		Hint:    "Check the consumer key, secret and request token URL",
		Cause:   cause,
	}
}

func ErrAccessToken(cause error) *Error {
	return &Error{
		Code:    CodeAccessToken,
		Message: "Could not exchange the verifier for an access token",
		Hint:    "Try signing in again",
		Cause:   cause,
	}
}

func ErrCallbackMismatch(cause error) *Error {
	return &Error{
		Code:    CodeCallbackMismatch,
		Message: "The provider's callback did not match this sign-in",
		Hint:    "Start a new sign-in; do not reuse an old authorization page",
		Cause:   cause,
	}
}

func ErrCanceled(cause error) *Error {
	return &Error{
		Code:    CodeCanceled,
		Message: "Sign-in canceled",
		Cause:   cause,
	}
}

func ErrStorage(cause error) *Error {
	return &Error{
		Code:    CodeStorage,
		Message: "Credential storage failed",
		Hint:    "Retry with --no-keyring to use file storage",
		Cause:   cause,
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
