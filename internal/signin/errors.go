package signin

import "errors"

// Terminal errors delivered through the completion handler. They wrap the
// underlying cause, so errors.Is works for both.
var (
	ErrTokenRequestFailed        = errors.New("request token failed")
	ErrAccessTokenExchangeFailed = errors.New("access token exchange failed")
	ErrCallbackMismatch          = errors.New("callback does not match the request token")
	ErrUserCanceled              = errors.New("sign-in canceled")
	ErrSurfaceFailed             = errors.New("sign-in page could not be shown")
)

// Usage errors returned directly to the caller.
var (
	ErrAlreadyStarted    = errors.New("session already started")
	ErrHandlerRegistered = errors.New("completion handler already registered")
)
