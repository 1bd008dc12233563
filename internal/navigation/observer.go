// Package navigation classifies the URLs an interactive sign-in surface
// tries to load.
package navigation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Kind is the classification of a navigation attempt.
type Kind int

const (
	// ProviderPage is a page on the provider's domain; it loads normally.
	ProviderPage Kind = iota
	// CallbackMatch is the provider redirecting to the configured callback.
	CallbackMatch
	// ExternalRequest points outside every provider domain.
	ExternalRequest
	// Cancellation matches the provider's user-canceled pattern.
	Cancellation
	// Invalid could not be parsed and must not load.
	Invalid
)

func (k Kind) String() string {
	switch k {
	case ProviderPage:
		return "provider_page"
	case CallbackMatch:
		return "callback_match"
	case ExternalRequest:
		return "external_request"
	case Cancellation:
		return "cancellation"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Classification is the result of Classify.
type Classification struct {
	Kind Kind
	URL  *url.URL

	// Params holds the decoded query parameters of a CallbackMatch.
	Params url.Values
}

// OutOfBand is the callback value for providers that display the verifier
// instead of redirecting.
const OutOfBand = "oob"

// Observer classifies navigation attempts. It is immutable after New.
type Observer struct {
	callback *url.URL
	domains  map[string]bool
	cancel   *regexp.Regexp
}

// New builds an observer for callbackURL. providerURLs define the provider's
// domains; cancel is optional.
func New(callbackURL string, providerURLs []string, cancel *regexp.Regexp) (*Observer, error) {
	o := &Observer{domains: make(map[string]bool), cancel: cancel}

	if callbackURL != "" && callbackURL != OutOfBand {
		cb, err := url.Parse(callbackURL)
		if err != nil {
			return nil, fmt.Errorf("invalid callback url: %w", err)
		}
		if cb.Scheme == "" || cb.Host == "" {
			return nil, fmt.Errorf("callback url %q is not absolute", callbackURL)
		}
		o.callback = cb
	}

	for _, raw := range providerURLs {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid provider url %q", raw)
		}
		o.domains[registrableDomain(u.Hostname())] = true
	}
	return o, nil
}

// Classify inspects rawURL. It has no side effects.
func (o *Observer) Classify(rawURL string) Classification {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Classification{Kind: Invalid}
	}

	if o.isCallback(u) {
		return Classification{Kind: CallbackMatch, URL: u, Params: u.Query()}
	}

	if o.cancel != nil && o.cancel.MatchString(rawURL) {
		return Classification{Kind: Cancellation, URL: u}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "about", "data":
		return Classification{Kind: ProviderPage, URL: u}
	default:
		return Classification{Kind: ExternalRequest, URL: u}
	}

	if len(o.domains) > 0 && !o.domains[registrableDomain(u.Hostname())] {
		return Classification{Kind: ExternalRequest, URL: u}
	}
	return Classification{Kind: ProviderPage, URL: u}
}

// isCallback reports whether u's scheme, host and path match the
// callback's. Scheme and host compare case-insensitively, default ports are
// ignored, and the path must equal the callback path or continue it at a
// segment boundary.
func (o *Observer) isCallback(u *url.URL) bool {
	cb := o.callback
	if cb == nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, cb.Scheme) || hostPort(u) != hostPort(cb) {
		return false
	}
	p, want := pathOf(u), pathOf(cb)
	if p == want {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(want, "/")+"/")
}

// hostPort returns u's lowercased host with the scheme's default port
// stripped.
func hostPort(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "":
	case port == "80" && strings.EqualFold(u.Scheme, "http"):
	case port == "443" && strings.EqualFold(u.Scheme, "https"):
	default:
		return net.JoinHostPort(host, port)
	}
	return host
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// registrableDomain returns the eTLD+1 of host, or host itself for IPs,
// single-label names and unknown suffixes.
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
