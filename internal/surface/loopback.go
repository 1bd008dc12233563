package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/basecamp/oauth1-cli/internal/hostutil"
	"github.com/basecamp/oauth1-cli/internal/signin"
)

const shutdownTimeout = 5 * time.Second

const (
	completePage = "<html><body><h1>Authorization received</h1><p>You can close this window and return to the terminal.</p></body></html>"
	notFoundPage = "<html><body><h1>Not found</h1></body></html>"
)

// Loopback receives the provider's redirect on a local listener bound to the
// callback URL's host and port. The authorize page itself is shown in the
// system browser.
type Loopback struct {
	callback  *url.URL
	out       io.Writer
	open      BrowserOpener
	noBrowser bool
	logger    *slog.Logger

	mu       sync.Mutex
	nav      Navigator
	listener net.Listener
	server   *http.Server
	closed   bool
}

// LoopbackOption configures a Loopback.
type LoopbackOption func(*Loopback)

// WithOutput sets where instructions are written. Defaults to stderr.
func WithOutput(w io.Writer) LoopbackOption {
	return func(l *Loopback) { l.out = w }
}

// WithBrowserOpener replaces the system browser launcher.
func WithBrowserOpener(open BrowserOpener) LoopbackOption {
	return func(l *Loopback) { l.open = open }
}

// WithoutBrowser prints the authorize URL instead of opening it.
func WithoutBrowser() LoopbackOption {
	return func(l *Loopback) { l.noBrowser = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoopbackOption {
	return func(l *Loopback) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithListener serves on an already bound listener instead of binding the
// callback address on Load.
func WithListener(ln net.Listener) LoopbackOption {
	return func(l *Loopback) { l.listener = ln }
}

// NewLoopback validates that callbackURL is a plain-http loopback address.
func NewLoopback(callbackURL string, opts ...LoopbackOption) (*Loopback, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback url: %w", err)
	}
	if u.Scheme != "http" || !hostutil.IsLocalhost(u.Host) {
		return nil, fmt.Errorf("callback %q must be an http url on localhost to receive the redirect", callbackURL)
	}

	l := &Loopback{
		callback: u,
		out:      os.Stderr,
		open:     OpenBrowser,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.listener == nil && u.Port() == "" {
		return nil, fmt.Errorf("callback %q must include a port", callbackURL)
	}
	return l, nil
}

// Attach sets the session that receives redirects. It must be called before
// the session starts.
func (l *Loopback) Attach(nav Navigator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nav = nav
}

// Load starts the listener and shows the authorize URL.
func (l *Loopback) Load(ctx context.Context, rawURL string) error {
	l.mu.Lock()
	if l.nav == nil {
		l.mu.Unlock()
		return errors.New("loopback surface is not attached to a session")
	}
	if l.closed {
		l.mu.Unlock()
		return errors.New("loopback surface is closed")
	}
	if l.server != nil {
		l.mu.Unlock()
		present(l.out, rawURL, l.noBrowser, l.open)
		return nil
	}

	ln := l.listener
	if ln == nil {
		lc := net.ListenConfig{}
		var err error
		ln, err = lc.Listen(ctx, "tcp", l.callback.Host)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("failed to start callback server: %w", err)
		}
		l.listener = ln
	}

	prefix := l.callback.Path
	if prefix == "" {
		prefix = "/"
	}
	router := mux.NewRouter()
	router.PathPrefix(prefix).Methods(http.MethodGet).HandlerFunc(l.handleRedirect)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, notFoundPage)
	})

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           router,
	}
	l.server = server
	l.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Warn("callback server stopped", "error", err)
		}
	}()

	l.logger.Debug("callback server listening", "addr", ln.Addr().String())
	present(l.out, rawURL, l.noBrowser, l.open)
	return nil
}

func (l *Loopback) handleRedirect(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	nav := l.nav
	l.mu.Unlock()

	full := l.callback.Scheme + "://" + l.callback.Host + r.URL.RequestURI()
	switch nav.HandleNavigation(full) {
	case signin.CallbackConsumed:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, completePage)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, notFoundPage)
	}
}

// Close stops the listener without waiting for in-flight responses.
func (l *Loopback) Close() {
	l.mu.Lock()
	server := l.server
	ln := l.listener
	l.server = nil
	l.listener = nil
	l.closed = true
	l.mu.Unlock()

	if server == nil {
		if ln != nil {
			_ = ln.Close()
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()
}

// Display writes placeholder content shown before the provider page opens.
func (l *Loopback) Display(content string) {
	fmt.Fprintln(l.out, content)
}

// OpenExternal hands u to the system browser.
func (l *Loopback) OpenExternal(u *url.URL) error {
	if l.open == nil {
		return errors.New("no browser available")
	}
	return l.open(u.String())
}
