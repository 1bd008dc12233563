// Package output provides JSON and styled terminal output and structured
// error handling.
package output

// Exit codes.
const (
	ExitOK       = 0  // Success
	ExitUsage    = 1  // Invalid arguments or flags
	ExitNotFound = 2  // No stored credentials or unknown provider
	ExitAuth     = 3  // Not authenticated, or the callback did not match
	ExitNetwork  = 6  // Connection/DNS/timeout error
	ExitAPI      = 7  // Provider returned an error
	ExitCanceled = 9  // User or caller canceled the sign-in
	ExitStorage  = 10 // Credential storage failed
)

// Error codes for JSON envelope.
const (
	CodeUsage            = "usage"
	CodeNotFound         = "not_found"
	CodeAuth             = "auth_required"
	CodeNetwork          = "network"
	CodeAPI              = "api_error"
	CodeTokenRequest     = "token_request_failed"
	CodeAccessToken      = "access_token_failed"
	CodeCallbackMismatch = "callback_mismatch"
	CodeCanceled         = "canceled"
	CodeStorage          = "storage"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth, CodeCallbackMismatch:
		return ExitAuth
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI, CodeTokenRequest, CodeAccessToken:
		return ExitAPI
	case CodeCanceled:
		return ExitCanceled
	case CodeStorage:
		return ExitStorage
	default:
		return ExitAPI
	}
}
