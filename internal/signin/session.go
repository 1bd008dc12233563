// Package signin runs the three-legged OAuth 1.0a sign-in sequence: request
// token, user authorization in an interactive surface, access-token exchange.
//
// A Session is one-shot. All of its state is owned by a single goroutine;
// navigation attempts, transport results, reachability ticks and
// cancellation are delivered to that goroutine as events, so the completion
// handler runs exactly once and nothing is processed after it.
package signin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/language"

	"github.com/basecamp/oauth1-cli/internal/navigation"
	"github.com/basecamp/oauth1-cli/internal/oauth1"
	"github.com/basecamp/oauth1-cli/internal/reachability"
	"github.com/basecamp/oauth1-cli/internal/transport"
)

// Endpoints are the provider URLs for one sign-in. They are not modified by
// the session.
type Endpoints struct {
	RequestTokenURL   string
	AuthorizeTokenURL string
	AccessTokenURL    string

	// Language is a locale hint appended to the authorize URL as hl=.
	Language string

	// CancelURLPattern optionally matches provider pages that mean the user
	// declined.
	CancelURLPattern string
}

// Session is a single sign-in attempt.
type Session struct {
	id        string
	endpoints Endpoints
	language  string
	auth      *oauth1.AuthenticationState
	transport transport.Transport
	surface   Surface
	observer  *navigation.Observer
	signer    *oauth1.Signer
	logger    *slog.Logger
	hooks     Hooks
	clock     clockwork.Clock

	networkLossTimeout time.Duration
	initialContent     string
	externalHandler    ExternalRequestHandler
	networkLost        []func()

	mu         sync.Mutex
	started    bool
	completion CompletionFunc
	completed  bool
	result     error

	stateMu sync.Mutex
	phase   Phase
	history []Phase

	events  chan any
	stopped chan struct{} // closed when the loop stops accepting events
	done    chan struct{} // closed after the completion handler returns

	// Owned by the run loop.
	ctx                  context.Context
	cancel               context.CancelFunc
	monitor              *reachability.Monitor
	requestToken         string
	requestSecret        string
	surfaceOpen          bool
	hasDoneFinalRedirect bool
	hasCalledFinished    bool
}

type navigationEvent struct {
	url   string
	reply chan Decision
}

type responseEvent struct {
	phase Phase
	resp  *transport.Response
	err   error
}

type surfaceErrorEvent struct{ err error }

type cancelEvent struct{}

type verifierEvent struct {
	verifier string
	reply    chan bool
}

type activityEvent struct{}

// New validates the configuration and returns an idle session.
func New(endpoints Endpoints, auth *oauth1.AuthenticationState, tr transport.Transport, surface Surface, opts ...Option) (*Session, error) {
	if auth == nil {
		return nil, errors.New("authentication state is required")
	}
	if auth.ConsumerKey == "" {
		return nil, errors.New("consumer key is required")
	}
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	if surface == nil {
		return nil, errors.New("surface is required")
	}
	for name, raw := range map[string]string{
		"request token url":   endpoints.RequestTokenURL,
		"authorize token url": endpoints.AuthorizeTokenURL,
		"access token url":    endpoints.AccessTokenURL,
	} {
		if err := validateEndpoint(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if auth.Callback == "" {
		return nil, errors.New("callback url is required")
	}

	var cancelPattern *regexp.Regexp
	if endpoints.CancelURLPattern != "" {
		re, err := regexp.Compile(endpoints.CancelURLPattern)
		if err != nil {
			return nil, fmt.Errorf("cancel url pattern: %w", err)
		}
		cancelPattern = re
	}

	var lang string
	if endpoints.Language != "" {
		tag, err := language.Parse(endpoints.Language)
		if err != nil {
			return nil, fmt.Errorf("language %q: %w", endpoints.Language, err)
		}
		lang = tag.String()
	}

	observer, err := navigation.New(auth.Callback, []string{
		endpoints.RequestTokenURL,
		endpoints.AuthorizeTokenURL,
		endpoints.AccessTokenURL,
	}, cancelPattern)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:                 uuid.NewString(),
		endpoints:          endpoints,
		language:           lang,
		auth:               auth,
		transport:          tr,
		surface:            surface,
		observer:           observer,
		signer:             oauth1.NewSigner(),
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		networkLossTimeout: defaultNetworkLossTimeout(),
		events:             make(chan any),
		stopped:            make(chan struct{}),
		done:               make(chan struct{}),
		history:            []Phase{Idle},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)
	s.monitor = reachability.New(s.clock, s.networkLossTimeout)
	return s, nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	return nil
}

// ID returns the session identifier used in logs and hooks.
func (s *Session) ID() string {
	return s.id
}

// Auth returns the authentication state the session mutates.
func (s *Session) Auth() *oauth1.AuthenticationState {
	return s.auth
}

// OnCompletion registers the completion handler. Only one handler may be
// registered. If the session has already finished, fn runs immediately.
func (s *Session) OnCompletion(fn CompletionFunc) error {
	s.mu.Lock()
	if s.completion != nil {
		s.mu.Unlock()
		return ErrHandlerRegistered
	}
	s.completion = fn
	finished := s.completed
	result := s.result
	s.mu.Unlock()

	if finished {
		fn(s.auth, result)
	}
	return nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.phase
}

// History returns every phase the session has entered, in order.
func (s *Session) History() []Phase {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	out := make([]Phase, len(s.history))
	copy(out, s.history)
	return out
}

// Done is closed once the session has finished and its completion handler
// has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) (*oauth1.AuthenticationState, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.auth, s.result
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start begins the sign-in. Canceling ctx cancels the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
	return nil
}

// Cancel ends a session that has not finished. It is safe to call at any
// time and any number of times.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.started {
		// Never started: finish on the caller's goroutine; no loop exists.
		s.started = true
		s.mu.Unlock()
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.finish(Canceled, ErrUserCanceled)
		close(s.stopped)
		s.complete()
		close(s.done)
		return
	}
	s.mu.Unlock()
	s.send(cancelEvent{})
}

// HandleNavigation classifies a navigation attempt before it commits and
// returns what the surface should do. After the session finishes, callback
// URLs are still consumed but otherwise ignored.
func (s *Session) HandleNavigation(rawURL string) Decision {
	reply := make(chan Decision, 1)
	if !s.send(navigationEvent{url: rawURL, reply: reply}) {
		switch s.observer.Classify(rawURL).Kind {
		case navigation.CallbackMatch:
			return CallbackConsumed
		default:
			return Block
		}
	}
	return <-reply
}

// SubmitVerifier completes authorization with a verifier the user copied
// from the provider, for out-of-band callbacks. It reports whether the
// session accepted it.
func (s *Session) SubmitVerifier(verifier string) bool {
	reply := make(chan bool, 1)
	if !s.send(verifierEvent{verifier: verifier, reply: reply}) {
		return false
	}
	return <-reply
}

// PageLoaded reports that a page finished loading, which counts as network
// activity.
func (s *Session) PageLoaded() {
	s.send(activityEvent{})
}

// send delivers ev to the run loop. It reports false when the session is not
// running.
func (s *Session) send(ev any) bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Session) run() {
	s.displayInitialContent()
	s.beginRequestToken()

	for !s.phase.Terminal() {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.monitor.C():
			s.monitor.Fired()
			s.notifyNetworkLost()
		case <-s.ctx.Done():
			s.finish(Canceled, fmt.Errorf("%w: %w", ErrUserCanceled, context.Cause(s.ctx)))
		}
	}

	close(s.stopped)
	s.complete()
	close(s.done)
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case navigationEvent:
		ev.reply <- s.handleNavigation(ev.url)
	case responseEvent:
		s.handleResponse(ev)
	case surfaceErrorEvent:
		if s.phase == AwaitingUserAuthorization {
			s.finish(Failed, fmt.Errorf("%w: %w", ErrSurfaceFailed, ev.err))
		}
	case verifierEvent:
		if s.phase != AwaitingUserAuthorization || s.hasDoneFinalRedirect {
			ev.reply <- false
			return
		}
		ev.reply <- true
		s.handleCallback(url.Values{
			oauth1.ParamToken:    {s.requestToken},
			oauth1.ParamVerifier: {strings.TrimSpace(ev.verifier)},
		})
	case activityEvent:
		s.monitor.Activity()
	case cancelEvent:
		s.logger.Info("sign-in canceled by caller", "phase", s.phase.String())
		s.finish(Canceled, ErrUserCanceled)
	}
}

func (s *Session) displayInitialContent() {
	if s.initialContent == "" {
		return
	}
	if d, ok := s.surface.(ContentDisplayer); ok {
		d.Display(s.initialContent)
	}
}

// Request token

func (s *Session) beginRequestToken() {
	s.setPhase(RequestingToken)

	body := url.Values{}
	if s.auth.Scope != "" {
		body.Set("scope", s.auth.Scope)
	}
	if s.auth.DisplayName != "" {
		body.Set("xoauth_displayname", s.auth.DisplayName)
	}

	// The request token call is signed with the consumer credentials only.
	consumer := *s.auth
	consumer.ClearTokens()

	req, err := s.signedRequest(&consumer, s.endpoints.RequestTokenURL, body, map[string]string{
		oauth1.ParamCallback: s.auth.Callback,
	})
	if err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err))
		return
	}
	s.issue(RequestingToken, req)
}

func (s *Session) handleRequestToken(ev responseEvent) {
	if ev.err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrTokenRequestFailed, ev.err))
		return
	}
	tok, err := transport.ParseTokenResponse(ev.resp.Body)
	if err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err))
		return
	}
	if tok.CallbackConfirmed != "true" {
		s.logger.Warn("provider did not confirm the callback; it may not implement OAuth 1.0a")
	}

	s.requestToken, s.requestSecret = tok.Token, tok.TokenSecret
	s.auth.SetTokens(tok.Token, tok.TokenSecret)

	authorizeURL, err := s.authorizeURL()
	if err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err))
		return
	}

	s.setPhase(AwaitingUserAuthorization)
	s.monitor.Start()
	s.surfaceOpen = true

	ctx := s.ctx
	go func() {
		if err := s.surface.Load(ctx, authorizeURL); err != nil {
			s.send(surfaceErrorEvent{err: err})
		}
	}()
}

// authorizeURL returns the authorize endpoint with the request token, the
// optional language hint and an OAuth signature in its query.
func (s *Session) authorizeURL() (string, error) {
	u, err := url.Parse(s.endpoints.AuthorizeTokenURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if s.language != "" {
		q.Set("hl", s.language)
	}
	u.RawQuery = q.Encode()

	params, err := s.signer.Sign(s.auth, oauth1.Request{Method: http.MethodGet, URL: u.String()})
	if err != nil {
		return "", err
	}
	if u.RawQuery != "" {
		u.RawQuery += "&"
	}
	u.RawQuery += params.Query()
	return u.String(), nil
}

// Navigation

func (s *Session) handleNavigation(rawURL string) Decision {
	c := s.observer.Classify(rawURL)
	s.logger.Debug("navigation attempt", "kind", c.Kind.String())

	switch c.Kind {
	case navigation.CallbackMatch:
		if s.phase != AwaitingUserAuthorization || s.hasDoneFinalRedirect {
			return CallbackConsumed
		}
		s.handleCallback(c.Params)
		return CallbackConsumed
	case navigation.Cancellation:
		s.logger.Info("provider reported cancellation")
		s.finish(Canceled, fmt.Errorf("%w: provider cancel page", ErrUserCanceled))
		return Block
	case navigation.ExternalRequest:
		s.openExternal(c.URL)
		return RedirectElsewhere
	case navigation.Invalid:
		return Block
	default:
		return Allow
	}
}

func (s *Session) openExternal(u *url.URL) {
	if s.externalHandler != nil && s.externalHandler(u) {
		return
	}
	if opener, ok := s.surface.(ExternalOpener); ok {
		if err := opener.OpenExternal(u); err != nil {
			s.logger.Warn("could not open external url", "host", u.Host, "error", err)
		}
		return
	}
	s.logger.Warn("external navigation dropped; surface cannot open external urls", "host", u.Host)
}

func (s *Session) handleCallback(params url.Values) {
	s.hasDoneFinalRedirect = true
	s.closeSurface()

	if denied(params) {
		s.finish(Canceled, fmt.Errorf("%w: provider reported access denied", ErrUserCanceled))
		return
	}
	if got := params.Get(oauth1.ParamToken); got != s.requestToken {
		s.finish(Failed, fmt.Errorf("%w: got token %q", ErrCallbackMismatch, got))
		return
	}
	verifier := params.Get(oauth1.ParamVerifier)
	if verifier == "" {
		s.finish(Failed, fmt.Errorf("%w: missing %s", ErrCallbackMismatch, oauth1.ParamVerifier))
		return
	}

	s.monitor.Stop()
	s.setPhase(ExchangingAccessToken)

	req, err := s.signedRequest(s.auth, s.endpoints.AccessTokenURL, nil, map[string]string{
		oauth1.ParamVerifier: verifier,
	})
	if err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrAccessTokenExchangeFailed, err))
		return
	}
	s.issue(ExchangingAccessToken, req)
}

// denied reports provider-specific "user declined" callback parameters.
func denied(params url.Values) bool {
	if params.Has("denied") || strings.EqualFold(params.Get("error"), "access_denied") {
		return true
	}
	switch strings.ToLower(params.Get("oauth_problem")) {
	case "user_refused", "permission_denied", "permission_unknown":
		return true
	}
	return false
}

// Access token

func (s *Session) handleAccessToken(ev responseEvent) {
	if ev.err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrAccessTokenExchangeFailed, ev.err))
		return
	}
	tok, err := transport.ParseTokenResponse(ev.resp.Body)
	if err != nil {
		s.finish(Failed, fmt.Errorf("%w: %w", ErrAccessTokenExchangeFailed, err))
		return
	}

	s.auth.SetTokens(tok.Token, tok.TokenSecret)
	if tok.Email != "" {
		s.auth.UserEmail = tok.Email
	}
	s.finish(Succeeded, nil)
}

// Transport

func (s *Session) signedRequest(auth *oauth1.AuthenticationState, endpoint string, body url.Values, extra map[string]string) (*transport.Request, error) {
	params, err := s.signer.Sign(auth, oauth1.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Params: body,
		OAuth:  extra,
	})
	if err != nil {
		return nil, err
	}
	return &transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: http.Header{"Authorization": {params.Header("")}},
		Body:   transport.FormBody(body),
	}, nil
}

// issue sends req without blocking the loop. The result re-enters the loop
// tagged with the phase it belongs to.
func (s *Session) issue(phase Phase, req *transport.Request) {
	ctx := s.ctx
	go func() {
		resp, err := s.transport.Send(ctx, req)
		s.send(responseEvent{phase: phase, resp: resp, err: err})
	}()
}

func (s *Session) handleResponse(ev responseEvent) {
	if ev.phase != s.phase {
		s.logger.Debug("discarding stale response", "for", ev.phase.String(), "phase", s.phase.String())
		return
	}
	if ev.err == nil {
		s.monitor.Activity()
	}
	switch ev.phase {
	case RequestingToken:
		s.handleRequestToken(ev)
	case ExchangingAccessToken:
		s.handleAccessToken(ev)
	}
}

// Reachability

func (s *Session) notifyNetworkLost() {
	s.logger.Warn("network unreachable while awaiting authorization", "timeout", s.monitor.Interval().String())
	if s.hooks != nil {
		s.hooks.OnNetworkLost(s.ctx, s.id)
	}
	for _, fn := range s.networkLost {
		fn()
	}
}

// Transitions

func (s *Session) setPhase(to Phase) {
	s.stateMu.Lock()
	from := s.phase
	if from.Terminal() || to <= from {
		s.stateMu.Unlock()
		return
	}
	s.phase = to
	s.history = append(s.history, to)
	s.stateMu.Unlock()

	s.logger.Debug("phase change", "from", from.String(), "to", to.String())
	if s.hooks != nil {
		s.hooks.OnPhaseChange(s.ctx, s.id, from, to)
	}
}

func (s *Session) closeSurface() {
	if s.surfaceOpen {
		s.surfaceOpen = false
		s.surface.Close()
	}
}

// finish performs the single terminal transition. Later calls are no-ops.
func (s *Session) finish(phase Phase, err error) {
	if s.hasCalledFinished {
		return
	}
	s.hasCalledFinished = true

	s.monitor.Stop()
	s.cancel()
	s.closeSurface()

	if phase != Succeeded && s.requestToken != "" && s.auth.Token == s.requestToken {
		s.auth.ClearTokens()
	}

	s.mu.Lock()
	s.result = err
	s.mu.Unlock()
	s.setPhase(phase)

	if err != nil {
		s.logger.Info("sign-in finished", "phase", phase.String(), "error", err)
	} else {
		s.logger.Info("sign-in finished", "phase", phase.String())
	}
}

// complete invokes the completion handler once. Events sent from inside the
// handler are dropped rather than deadlocking.
func (s *Session) complete() {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	fn := s.completion
	result := s.result
	s.mu.Unlock()

	if fn != nil {
		fn(s.auth, result)
	}
}
