package surface

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
)

// Prompter asks the user for the verification code the provider displayed.
type Prompter func(ctx context.Context) (string, error)

// PromptVerifier is the interactive Prompter.
func PromptVerifier(ctx context.Context) (string, error) {
	var verifier string
	input := huh.NewInput().
		Title("Verification code").
		Description("Paste the code the provider showed after you approved access.").
		Value(&verifier).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("this field is required")
			}
			return nil
		})
	err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx)
	return verifier, err
}

// OutOfBand shows the authorize URL and reads the verifier from the
// terminal, for providers registered with the "oob" callback.
type OutOfBand struct {
	out       io.Writer
	open      BrowserOpener
	noBrowser bool
	prompt    Prompter
	logger    *slog.Logger

	mu     sync.Mutex
	nav    Navigator
	cancel context.CancelFunc
	closed bool
}

// OutOfBandOption configures an OutOfBand surface.
type OutOfBandOption func(*OutOfBand)

// WithPrompter replaces the interactive verifier prompt.
func WithPrompter(p Prompter) OutOfBandOption {
	return func(o *OutOfBand) { o.prompt = p }
}

// OutOfBandOutput sets where instructions are written.
func OutOfBandOutput(w io.Writer) OutOfBandOption {
	return func(o *OutOfBand) { o.out = w }
}

// OutOfBandBrowser replaces the browser launcher; nil prints the URL only.
func OutOfBandBrowser(open BrowserOpener) OutOfBandOption {
	return func(o *OutOfBand) {
		o.open = open
		o.noBrowser = open == nil
	}
}

// OutOfBandLogger sets the logger.
func OutOfBandLogger(logger *slog.Logger) OutOfBandOption {
	return func(o *OutOfBand) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOutOfBand returns an out-of-band surface.
func NewOutOfBand(opts ...OutOfBandOption) *OutOfBand {
	o := &OutOfBand{
		out:    os.Stderr,
		open:   OpenBrowser,
		prompt: PromptVerifier,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attach sets the session that receives the verifier.
func (o *OutOfBand) Attach(nav Navigator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nav = nav
}

// Load shows the authorize URL and prompts for the verifier in the
// background. An aborted prompt cancels the session.
func (o *OutOfBand) Load(ctx context.Context, rawURL string) error {
	o.mu.Lock()
	if o.nav == nil {
		o.mu.Unlock()
		return errors.New("out-of-band surface is not attached to a session")
	}
	if o.closed {
		o.mu.Unlock()
		return errors.New("out-of-band surface is closed")
	}
	nav := o.nav
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	present(o.out, rawURL, o.noBrowser, o.open)

	go func() {
		defer cancel()
		verifier, err := o.prompt(ctx)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Debug("verifier prompt aborted", "error", err)
				nav.Cancel()
			}
			return
		}
		if !nav.SubmitVerifier(verifier) {
			o.logger.Debug("verifier not accepted; session already finished")
		}
	}()
	return nil
}

// Close abandons a pending prompt.
func (o *OutOfBand) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.cancel != nil {
		o.cancel()
	}
}

// Display writes placeholder content.
func (o *OutOfBand) Display(content string) {
	_, _ = io.WriteString(o.out, content+"\n")
}

// OpenExternal hands u to the system browser.
func (o *OutOfBand) OpenExternal(u *url.URL) error {
	if o.open == nil {
		return errors.New("no browser available")
	}
	return o.open(u.String())
}
