// Package hostutil provides shared utilities for provider and callback URL handling.
package hostutil

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultCallbackPath is appended to callback shorthands that carry no path.
const DefaultCallbackPath = "/callback"

// NormalizeCallback expands a callback shorthand into a full URL.
// - Empty string returns empty
// - "oob" (any case) is returned as "oob"
// - A bare port ("8976") binds to 127.0.0.1
// - host[:port] without a scheme defaults to http://
// - A missing path becomes /callback
// - Full URLs with a path are used as-is
func NormalizeCallback(callback string) string {
	if callback == "" {
		return ""
	}
	if strings.EqualFold(callback, "oob") {
		return "oob"
	}
	if isDigits(callback) {
		callback = "127.0.0.1:" + callback
	}
	if !strings.HasPrefix(callback, "http://") && !strings.HasPrefix(callback, "https://") {
		callback = "http://" + callback
	}
	u, err := url.Parse(callback)
	if err != nil {
		return callback
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultCallbackPath
	}
	return u.String()
}

// RequireSecureURL returns an error unless rawURL uses https, or http on a
// loopback host. Empty input is accepted.
func RequireSecureURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if IsLocalhost(u.Host) {
			return nil
		}
		return fmt.Errorf("refusing insecure http:// endpoint %s (use https)", u.Host)
	default:
		return fmt.Errorf("unsupported URL scheme %q in %s", u.Scheme, rawURL)
	}
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	// Strip port if present for easier matching
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Check if this is IPv6 bracketed address
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	// Check for localhost or .localhost subdomain
	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	// IPv6 loopback (must be bracketed for valid URL)
	if hostWithoutPort == "[::1]" {
		return true
	}
	return false
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
