package commands

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/basecamp/oauth1-cli/internal/appctx"
	"github.com/basecamp/oauth1-cli/internal/config"
	"github.com/basecamp/oauth1-cli/internal/credstore"
	"github.com/basecamp/oauth1-cli/internal/oauth1"
	"github.com/basecamp/oauth1-cli/internal/output"
	"github.com/basecamp/oauth1-cli/internal/signin"
)

const (
	requestToken  = "hh5s93j4hdidpola"
	requestSecret = "hdhd0244k9j7ao03"
	verifier      = "hfdp7dh39dks9884"
	accessToken   = "nnch734d00sl2jdk"
	accessSecret  = "pfkkdhi9sl3r4s00"
)

type fakeProvider struct {
	*httptest.Server

	mu            sync.Mutex
	accessHeaders []string
	authorizeHits atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/request_token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "oauth_token=%s&oauth_token_secret=%s&oauth_callback_confirmed=true", requestToken, requestSecret)
	})
	mux.HandleFunc("/access_token", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.accessHeaders = append(p.accessHeaders, r.Header.Get("Authorization"))
		p.mu.Unlock()
		fmt.Fprintf(w, "oauth_token=%s&oauth_token_secret=%s", accessToken, accessSecret)
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		p.authorizeHits.Add(1)
	})
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *fakeProvider) headers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.accessHeaders...)
}

func freeCallback(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr + "/callback"
}

func newLoginApp(t *testing.T, provider *fakeProvider, callback string) (*appctx.App, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.NoKeyring = true
	cfg.CredentialsDir = t.TempDir()
	cfg.NetworkLossTimeout = 0
	cfg.DefaultProvider = "photos"
	cfg.Providers = map[string]*config.ProviderConfig{
		"photos": {
			RequestTokenURL: provider.URL + "/request_token",
			AuthorizeURL:    provider.URL + "/authorize",
			AccessTokenURL:  provider.URL + "/access_token",
			ConsumerKey:     "dpf43f3p2l4k3l03",
			ConsumerSecret:  "kd94hf93k423kf44",
			Callback:        callback,
		},
	}

	var stdout bytes.Buffer
	app := appctx.NewApp(cfg, &stdout, &bytes.Buffer{})
	app.Flags.JSON = true
	app.ApplyFlags()
	return app, &stdout
}

func swapBrowser(t *testing.T, open func(string) error) {
	t.Helper()
	prev := browserOpener
	browserOpener = open
	t.Cleanup(func() { browserOpener = prev })
}

func TestLoginLoopback(t *testing.T) {
	provider := newFakeProvider(t)
	callback := freeCallback(t)
	app, stdout := newLoginApp(t, provider, callback)

	swapBrowser(t, func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		token := u.Query().Get(oauth1.ParamToken)
		go func() {
			resp, err := http.Get(callback + "?oauth_token=" + token + "&oauth_verifier=" + verifier)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	})

	err := runLogin(context.Background(), app, loginOptions{timeout: 10 * time.Second})
	require.NoError(t, err)

	var resp output.Response
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	assert.Equal(t, "Signed in to photos", resp.Summary)

	headers := provider.headers()
	require.Len(t, headers, 1)
	assert.Contains(t, headers[0], `oauth_verifier="`+verifier+`"`)
	assert.Contains(t, headers[0], `oauth_token="`+requestToken+`"`)

	var stored oauth1.AuthenticationState
	require.NoError(t, app.Store.LoadE("photos", &stored))
	assert.Equal(t, accessToken, stored.Token)
	assert.Equal(t, accessSecret, stored.TokenSecret)

	summary := app.Collector.Summary()
	assert.Equal(t, 2, summary.TotalRequests)
	assert.Equal(t, "succeeded", summary.FinalPhase)
}

func TestLoginOutOfBand(t *testing.T) {
	provider := newFakeProvider(t)
	app, _ := newLoginApp(t, provider, "oob")

	prev := verifierPrompt
	verifierPrompt = func(context.Context) (string, error) { return verifier, nil }
	t.Cleanup(func() { verifierPrompt = prev })

	err := runLogin(context.Background(), app, loginOptions{noBrowser: true, timeout: 10 * time.Second})
	require.NoError(t, err)

	var stored oauth1.AuthenticationState
	require.NoError(t, app.Store.LoadE("photos", &stored))
	assert.Equal(t, accessToken, stored.Token)
}

func TestLoginTimeout(t *testing.T) {
	provider := newFakeProvider(t)
	app, _ := newLoginApp(t, provider, freeCallback(t))
	swapBrowser(t, func(string) error { return nil })

	err := runLogin(context.Background(), app, loginOptions{timeout: 100 * time.Millisecond})
	require.Error(t, err)

	e := output.AsError(err)
	assert.Equal(t, output.CodeCanceled, e.Code)
	assert.Equal(t, "Timed out waiting for authorization", e.Message)
	assert.ErrorIs(t, err, signin.ErrUserCanceled)

	var stored oauth1.AuthenticationState
	assert.Error(t, app.Store.LoadE("photos", &stored), "nothing persisted")
}

func TestLoginNoNetworkLostWhileProviderAnswers(t *testing.T) {
	provider := newFakeProvider(t)
	callback := freeCallback(t)
	app, _ := newLoginApp(t, provider, callback)
	app.Config.NetworkLossTimeout = 30 * time.Second

	authorizeURLs := make(chan string, 1)
	swapBrowser(t, func(raw string) error {
		authorizeURLs <- raw
		return nil
	})

	clock := clockwork.NewFakeClock()
	errc := make(chan error, 1)
	go func() {
		errc <- runLogin(context.Background(), app, loginOptions{timeout: 30 * time.Second, clock: clock})
	}()

	var authorizeURL string
	select {
	case authorizeURL = <-authorizeURLs:
	case <-time.After(10 * time.Second):
		t.Fatal("authorize page was never opened")
	}

	// Two minutes of user think time, the provider answering every probe.
	for i := range 12 {
		clock.BlockUntil(2) // network-loss timer and probe timer
		clock.Advance(10 * time.Second)
		require.Eventually(t, func() bool { return provider.authorizeHits.Load() == int32(i+1) },
			5*time.Second, 5*time.Millisecond, "probe %d", i+1)
	}
	assert.Equal(t, 0, app.Collector.Summary().NetworkLost)

	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	resp, err := http.Get(callback + "?oauth_token=" + u.Query().Get(oauth1.ParamToken) + "&oauth_verifier=" + verifier)
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("login did not finish after the callback")
	}
	assert.Equal(t, 0, app.Collector.Summary().NetworkLost)
}

func TestLoginNetworkLostWhenProviderUnreachable(t *testing.T) {
	provider := newFakeProvider(t)
	app, _ := newLoginApp(t, provider, freeCallback(t))
	app.Config.NetworkLossTimeout = 30 * time.Second

	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()
	app.Config.Providers["photos"].AuthorizeURL = gone.URL + "/authorize"

	opened := make(chan struct{}, 1)
	swapBrowser(t, func(string) error {
		opened <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	errc := make(chan error, 1)
	go func() {
		errc <- runLogin(ctx, app, loginOptions{timeout: 30 * time.Second, clock: clock})
	}()

	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("authorize page was never opened")
	}

	clock.BlockUntil(2)
	clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool { return app.Collector.Summary().NetworkLost == 1 },
		5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.Equal(t, output.CodeCanceled, output.AsError(err).Code)
	case <-time.After(10 * time.Second):
		t.Fatal("login did not return after cancel")
	}
}

func TestLoginAlreadySignedIn(t *testing.T) {
	provider := newFakeProvider(t)
	app, stdout := newLoginApp(t, provider, freeCallback(t))

	existing := &oauth1.AuthenticationState{}
	existing.SetTokens(accessToken, accessSecret)
	require.NoError(t, app.Store.SaveE("photos", existing))

	require.NoError(t, runLogin(context.Background(), app, loginOptions{}))
	assert.Contains(t, stdout.String(), "Already signed in to photos")
	assert.Empty(t, provider.headers(), "no network traffic")
}

func TestLoginRejectsRemoteCallback(t *testing.T) {
	provider := newFakeProvider(t)
	app, _ := newLoginApp(t, provider, "https://app.example.com/callback")

	err := runLogin(context.Background(), app, loginOptions{force: true})
	require.Error(t, err)
	assert.Equal(t, output.CodeUsage, output.AsError(err).Code)
}

func TestSignInError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: 401", signin.ErrTokenRequestFailed), output.CodeTokenRequest},
		{fmt.Errorf("%w: 500", signin.ErrAccessTokenExchangeFailed), output.CodeAccessToken},
		{signin.ErrCallbackMismatch, output.CodeCallbackMismatch},
		{signin.ErrUserCanceled, output.CodeCanceled},
		{signin.ErrSurfaceFailed, output.CodeUsage},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := signInError(tt.err)
			assert.Equal(t, tt.code, output.AsError(got).Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, signInError(nil))
	plain := errors.New("other")
	assert.Equal(t, plain, signInError(plain))
}

func TestNewAuthState(t *testing.T) {
	t.Run("hmac default", func(t *testing.T) {
		auth, err := newAuthState(&config.ProviderConfig{ConsumerKey: "k", ConsumerSecret: "s", Scope: "photos", ServiceName: "photos"})
		require.NoError(t, err)
		assert.Equal(t, oauth1.HMACSHA1, auth.SignatureMethod)
		assert.Equal(t, "photos", auth.Scope)
		assert.False(t, auth.IsAuthorized())
	})

	t.Run("plaintext", func(t *testing.T) {
		auth, err := newAuthState(&config.ProviderConfig{ConsumerKey: "k", SignatureMethod: "plaintext"})
		require.NoError(t, err)
		assert.Equal(t, oauth1.PlainText, auth.SignatureMethod)
	})

	t.Run("rsa", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.pem")
		block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))

		auth, err := newAuthState(&config.ProviderConfig{ConsumerKey: "k", SignatureMethod: "RSA-SHA1", PrivateKeyFile: path})
		require.NoError(t, err)
		assert.Equal(t, oauth1.RSASHA1, auth.SignatureMethod)
		assert.True(t, key.Equal(auth.PrivateKey))
	})

	t.Run("errors", func(t *testing.T) {
		cases := []*config.ProviderConfig{
			{},
			{ConsumerKey: "k", SignatureMethod: "MD5"},
			{ConsumerKey: "k", SignatureMethod: "RSA-SHA1"},
			{ConsumerKey: "k", SignatureMethod: "RSA-SHA1", PrivateKeyFile: "/nonexistent.pem"},
		}
		for _, p := range cases {
			_, err := newAuthState(p)
			assert.Equal(t, output.CodeUsage, output.AsError(err).Code, "%+v", p)
		}
	})
}

func TestParseParams(t *testing.T) {
	values, err := parseParams([]string{"title=Vacation", "tag=a", "tag=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, values["tag"])
	assert.Equal(t, "", values.Get("empty"))

	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "key=value"))
}

func TestAuthMigrate(t *testing.T) {
	keyring.MockInit()
	t.Setenv("OAUTH1_NO_KEYRING", "")

	cfg := config.Default()
	cfg.CredentialsDir = t.TempDir()

	file := credstore.NewFileBackend(cfg.CredentialsDir)
	auth := &oauth1.AuthenticationState{}
	auth.SetTokens(accessToken, accessSecret)
	require.NoError(t, credstore.New(file, nil).SaveE("photos", auth))

	var stdout bytes.Buffer
	app := appctx.NewApp(cfg, &stdout, &bytes.Buffer{})
	app.Flags.JSON = true
	app.ApplyFlags()

	require.NoError(t, runMigrate(app))

	var resp output.Response
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["migrated"])

	_, err := os.Stat(file.Path())
	assert.True(t, os.IsNotExist(err), "plaintext file should be removed")

	var stored oauth1.AuthenticationState
	require.NoError(t, credstore.New(credstore.NewKeyringBackend(credstore.KeyringService), nil).LoadE("photos", &stored))
	assert.Equal(t, accessToken, stored.Token)
}

func TestAuthMigrateRequiresKeyring(t *testing.T) {
	cfg := config.Default()
	cfg.CredentialsDir = t.TempDir()
	cfg.NoKeyring = true

	app := appctx.NewApp(cfg, &bytes.Buffer{}, &bytes.Buffer{})
	err := runMigrate(app)
	require.Error(t, err)
	assert.Equal(t, output.CodeUsage, output.AsError(err).Code)
}
