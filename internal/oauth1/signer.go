package oauth1

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // G505: SHA-1 is mandated by OAuth 1.0a signature methods
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Protocol parameter names.
const (
	ParamConsumerKey       = "oauth_consumer_key"
	ParamToken             = "oauth_token"
	ParamTokenSecret       = "oauth_token_secret"
	ParamSignatureMethod   = "oauth_signature_method"
	ParamTimestamp         = "oauth_timestamp"
	ParamNonce             = "oauth_nonce"
	ParamVersion           = "oauth_version"
	ParamSignature         = "oauth_signature"
	ParamCallback          = "oauth_callback"
	ParamVerifier          = "oauth_verifier"
	ParamCallbackConfirmed = "oauth_callback_confirmed"
)

// Version is the value sent as oauth_version.
const Version = "1.0"

// Request describes what gets signed.
type Request struct {
	Method string
	URL    string

	// Params are query or form-body parameters included in the signature
	// base string. Query parameters already present in URL are added
	// automatically.
	Params url.Values

	// OAuth holds extra protocol parameters such as oauth_callback or
	// oauth_verifier. They are signed and emitted alongside the standard set.
	OAuth map[string]string
}

// Params is the set of oauth_* parameters produced for one request,
// including oauth_signature.
type Params map[string]string

// Header renders the parameters as an Authorization header value.
func (p Params) Header(realm string) string {
	var b strings.Builder
	b.WriteString("OAuth ")
	if realm != "" {
		fmt.Fprintf(&b, "realm=%q, ", Encode(realm))
	}
	for i, k := range p.sortedKeys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=\"%s\"", Encode(k), Encode(p[k]))
	}
	return b.String()
}

// Query renders the parameters as a query-string fragment without a leading
// '?'.
func (p Params) Query() string {
	parts := make([]string, 0, len(p))
	for _, k := range p.sortedKeys() {
		parts = append(parts, Encode(k)+"="+Encode(p[k]))
	}
	return strings.Join(parts, "&")
}

func (p Params) sortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Signer produces OAuth 1.0a parameters. The clock and nonce source are
// injectable; everything else is a pure function of its inputs.
type Signer struct {
	Now   func() time.Time
	Nonce func() string
}

// NewSigner returns a Signer using the wall clock and crypto/rand nonces.
func NewSigner() *Signer {
	return &Signer{Now: time.Now, Nonce: GenerateNonce}
}

// Sign signs req on behalf of auth using the current time and a fresh nonce.
func (s *Signer) Sign(auth *AuthenticationState, req Request) (Params, error) {
	now, nonce := time.Now, GenerateNonce
	if s != nil && s.Now != nil {
		now = s.Now
	}
	if s != nil && s.Nonce != nil {
		nonce = s.Nonce
	}
	return SignWith(auth, req, now().Unix(), nonce())
}

// SignWith signs req with a fixed timestamp and nonce.
func SignWith(auth *AuthenticationState, req Request, timestamp int64, nonce string) (Params, error) {
	if auth == nil || auth.ConsumerKey == "" {
		return nil, errors.New("consumer key is required")
	}
	method := auth.SignatureMethod
	if method == "" {
		method = HMACSHA1
	}

	p := Params{
		ParamConsumerKey:     auth.ConsumerKey,
		ParamSignatureMethod: string(method),
		ParamTimestamp:       strconv.FormatInt(timestamp, 10),
		ParamNonce:           nonce,
		ParamVersion:         Version,
	}
	if auth.Token != "" {
		p[ParamToken] = auth.Token
	}
	for k, v := range req.OAuth {
		p[k] = v
	}

	all := url.Values{}
	for k, vs := range req.Params {
		all[k] = append(all[k], vs...)
	}
	for k, v := range p {
		all.Add(k, v)
	}

	base, err := BaseString(req.Method, req.URL, all)
	if err != nil {
		return nil, err
	}

	sig, err := signature(method, auth, base)
	if err != nil {
		return nil, err
	}
	p[ParamSignature] = sig
	return p, nil
}

// BaseString builds the RFC 5849 §3.4.1 signature base string. Query
// parameters from rawURL are merged into params.
func BaseString(method, rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	all := url.Values{}
	for k, vs := range u.Query() {
		all[k] = append(all[k], vs...)
	}
	for k, vs := range params {
		if k == ParamSignature {
			continue
		}
		all[k] = append(all[k], vs...)
	}

	return strings.ToUpper(method) + "&" +
		Encode(baseURI(u)) + "&" +
		Encode(normalizeParams(all)), nil
}

// baseURI lowercases scheme and host, drops default ports and the query.
func baseURI(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host = net.JoinHostPort(host, port)
		}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

func normalizeParams(values url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(values))
	for k, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, pair{Encode(k), Encode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

func signingKey(auth *AuthenticationState) string {
	return Encode(auth.ConsumerSecret) + "&" + Encode(auth.TokenSecret)
}

func signature(method SignatureMethod, auth *AuthenticationState, base string) (string, error) {
	switch method {
	case HMACSHA1:
		mac := hmac.New(sha1.New, []byte(signingKey(auth)))
		mac.Write([]byte(base))
		return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
	case RSASHA1:
		if auth.PrivateKey == nil {
			return "", errors.New("RSA-SHA1 requires a private key")
		}
		h := sha1.Sum([]byte(base)) //nolint:gosec // G401: required by RSA-SHA1
		sig, err := rsa.SignPKCS1v15(rand.Reader, auth.PrivateKey, crypto.SHA1, h[:])
		if err != nil {
			return "", fmt.Errorf("rsa sign: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil
	case PlainText:
		return signingKey(auth), nil
	default:
		return "", fmt.Errorf("unsupported signature method %q", method)
	}
}

// GenerateNonce returns 16 random bytes, hex encoded.
func GenerateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Encode percent-encodes s per RFC 3986, leaving only the unreserved set
// (ALPHA, DIGIT, '-', '.', '_', '~') as is.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
