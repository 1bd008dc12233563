package signin

import "fmt"

// Phase is a sign-in session state. Phases only move forward.
type Phase int

const (
	Idle Phase = iota
	RequestingToken
	AwaitingUserAuthorization
	ExchangingAccessToken
	Succeeded
	Failed
	Canceled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case RequestingToken:
		return "requesting_token"
	case AwaitingUserAuthorization:
		return "awaiting_user_authorization"
	case ExchangingAccessToken:
		return "exchanging_access_token"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether p ends the session.
func (p Phase) Terminal() bool {
	return p >= Succeeded
}

// Decision tells the interactive surface what to do with a navigation
// attempt.
type Decision int

const (
	// Allow lets the page load.
	Allow Decision = iota
	// RedirectElsewhere cancels the load; the URL was handed to an external
	// handler.
	RedirectElsewhere
	// CallbackConsumed cancels the load; the session took the callback.
	CallbackConsumed
	// Block cancels the load without further action.
	Block
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectElsewhere:
		return "redirect_elsewhere"
	case CallbackConsumed:
		return "callback_consumed"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}
