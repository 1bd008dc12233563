package signin

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/basecamp/oauth1-cli/internal/oauth1"
	"github.com/basecamp/oauth1-cli/internal/reachability"
)

// Surface is the interactive page the user authorizes in. Load must not
// call back into the session synchronously.
type Surface interface {
	Load(ctx context.Context, rawURL string) error
	Close()
}

// ContentDisplayer is implemented by surfaces that can show placeholder
// content before the first provider page loads.
type ContentDisplayer interface {
	Display(content string)
}

// ExternalOpener is implemented by surfaces that can hand a URL to an
// external browser.
type ExternalOpener interface {
	OpenExternal(u *url.URL) error
}

// ExternalRequestHandler receives navigations that leave the provider's
// domain. Returning false falls back to the surface's ExternalOpener.
type ExternalRequestHandler func(u *url.URL) bool

// CompletionFunc receives the terminal outcome of a session.
type CompletionFunc func(auth *oauth1.AuthenticationState, err error)

// Hooks observe session-level events.
type Hooks interface {
	OnPhaseChange(ctx context.Context, sessionID string, from, to Phase)
	OnNetworkLost(ctx context.Context, sessionID string)
}

// Option configures a Session.
type Option func(*Session)

// WithNetworkLossTimeout sets how long the network may stay silent while the
// user is authorizing before a network-lost notification. Zero disables it.
func WithNetworkLossTimeout(d time.Duration) Option {
	return func(s *Session) { s.networkLossTimeout = d }
}

// WithInitialContent sets placeholder content shown before the first
// provider page loads.
func WithInitialContent(content string) Option {
	return func(s *Session) { s.initialContent = content }
}

// WithExternalRequestHandler overrides how external navigations are opened.
func WithExternalRequestHandler(h ExternalRequestHandler) Option {
	return func(s *Session) { s.externalHandler = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHooks attaches session observers.
func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

// WithClock sets the clock driving the reachability monitor.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSigner replaces the request signer.
func WithSigner(signer *oauth1.Signer) Option {
	return func(s *Session) {
		if signer != nil {
			s.signer = signer
		}
	}
}

// OnNetworkLost registers an observer for network-lost notifications.
func OnNetworkLost(fn func()) Option {
	return func(s *Session) {
		if fn != nil {
			s.networkLost = append(s.networkLost, fn)
		}
	}
}

func defaultNetworkLossTimeout() time.Duration {
	return reachability.DefaultTimeout
}
