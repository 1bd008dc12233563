// Package oauth1 implements OAuth 1.0a request signing and the
// authentication state shared between a sign-in session and its caller.
package oauth1

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// SignatureMethod is the scheme used to sign requests.
type SignatureMethod string

const (
	HMACSHA1  SignatureMethod = "HMAC-SHA1"
	RSASHA1   SignatureMethod = "RSA-SHA1"
	PlainText SignatureMethod = "PLAINTEXT"
)

// ParseSignatureMethod parses a signature method name case-insensitively.
// An empty name yields HMAC-SHA1.
func ParseSignatureMethod(s string) (SignatureMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(HMACSHA1):
		return HMACSHA1, nil
	case string(RSASHA1):
		return RSASHA1, nil
	case string(PlainText):
		return PlainText, nil
	default:
		return "", fmt.Errorf("unsupported signature method %q", s)
	}
}

// AuthenticationState is one OAuth identity, in progress or established.
//
// The caller owns it for the lifetime of a sign-in session; the session only
// mutates the token fields.
type AuthenticationState struct {
	ConsumerKey     string
	ConsumerSecret  string
	PrivateKey      *rsa.PrivateKey // RSA-SHA1 only
	SignatureMethod SignatureMethod

	Token       string
	TokenSecret string

	Callback        string
	Scope           string
	ServiceProvider string
	DisplayName     string
	UserEmail       string
}

// NewHMAC returns a state signing with HMAC-SHA1.
func NewHMAC(consumerKey, consumerSecret string) *AuthenticationState {
	return &AuthenticationState{
		ConsumerKey:     consumerKey,
		ConsumerSecret:  consumerSecret,
		SignatureMethod: HMACSHA1,
	}
}

// NewRSA returns a state signing with RSA-SHA1.
func NewRSA(consumerKey string, key *rsa.PrivateKey) *AuthenticationState {
	return &AuthenticationState{
		ConsumerKey:     consumerKey,
		PrivateKey:      key,
		SignatureMethod: RSASHA1,
	}
}

// IsAuthorized reports whether both halves of the token pair are present.
func (a *AuthenticationState) IsAuthorized() bool {
	return a != nil && a.Token != "" && a.TokenSecret != ""
}

// SetTokens replaces the token pair as a unit.
func (a *AuthenticationState) SetTokens(token, secret string) {
	a.Token, a.TokenSecret = token, secret
}

// ClearTokens removes the token pair and any provider-supplied identity.
func (a *AuthenticationState) ClearTokens() {
	a.Token, a.TokenSecret = "", ""
	a.UserEmail = ""
}

// ParsePrivateKeyPEM decodes an RSA private key in PKCS#1 or PKCS#8 PEM form.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}
