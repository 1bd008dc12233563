// Package transport performs the token-exchange HTTP calls of the OAuth 1.0a
// flow and decodes their form-encoded responses.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/form/v4"
)

// Request is one outgoing call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a completed call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends a request and returns its response or a transport error.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

// ErrMissingToken is returned when a token response lacks the pair.
var ErrMissingToken = errors.New("response is missing oauth_token or oauth_token_secret")

// TokenResponse is the form-encoded body returned by the request-token and
// access-token endpoints.
type TokenResponse struct {
	Token             string `form:"oauth_token"`
	TokenSecret       string `form:"oauth_token_secret"`
	CallbackConfirmed string `form:"oauth_callback_confirmed"`
	Email             string `form:"email"`

	// Extra holds every parameter of the response, including the above.
	Extra url.Values `form:"-"`
}

var decoder = form.NewDecoder()

// ParseTokenResponse decodes body and requires both token fields.
func ParseTokenResponse(body []byte) (*TokenResponse, error) {
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}

	var tr TokenResponse
	if err := decoder.Decode(&tr, values); err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}
	tr.Extra = values

	if tr.Token == "" || tr.TokenSecret == "" {
		return nil, ErrMissingToken
	}
	return &tr, nil
}

// FormBody encodes form values as a request body.
func FormBody(values url.Values) []byte {
	if len(values) == 0 {
		return nil
	}
	return []byte(values.Encode())
}
