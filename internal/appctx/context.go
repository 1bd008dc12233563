// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/basecamp/oauth1-cli/internal/config"
	"github.com/basecamp/oauth1-cli/internal/credstore"
	"github.com/basecamp/oauth1-cli/internal/observability"
	"github.com/basecamp/oauth1-cli/internal/oauth1"
	"github.com/basecamp/oauth1-cli/internal/output"
	"github.com/basecamp/oauth1-cli/internal/transport"
	"github.com/basecamp/oauth1-cli/internal/version"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config    *config.Config
	Store     *credstore.Store
	Transport *transport.HTTP
	Signer    *oauth1.Signer
	Output    *output.Writer
	Logger    *slog.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	Stdout io.Writer
	Stderr io.Writer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Styled bool // Force ANSI styled output (even when piped)

	// Provider flags
	Provider       string
	Callback       string
	CredentialsDir string
	NoKeyring      bool

	// Behavior flags
	Verbose int // 0=off, 1=phases, 2=phases+requests (stacks with -v -v or -vv)
	Stats   bool
}

// NewApp creates a new App with the given configuration. Output goes to
// stdout; logs and traces go to stderr.
func NewApp(cfg *config.Config, stdout, stderr io.Writer) *App {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	logger := newLogger(stderr, slog.LevelWarn)

	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriterTo(stderr))

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if cfg.RequestTimeout <= 0 {
		httpClient.Timeout = transport.DefaultTimeout
	}

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		logger.Warn("ignoring unknown output format", "format", cfg.Format)
	}

	return &App{
		Config:    cfg,
		Store:     credstore.New(credstore.NewDefaultBackend(cfg.CredentialsDir, cfg.NoKeyring, logger), logger),
		Transport: transport.NewHTTP(httpClient, transport.WithHooks(hooks), transport.WithUserAgent(version.UserAgent())),
		Signer:    oauth1.NewSigner(),
		Logger:    logger,
		Collector: collector,
		Hooks:     hooks,
		Output:    output.New(output.Options{Format: format, Writer: stdout}),
		Stdout:    stdout,
		Stderr:    stderr,
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	// Order matters: specific modes first
	if a.Flags.Quiet {
		a.Output = output.New(output.Options{Format: output.FormatQuiet, Writer: a.Stdout})
	} else if a.Flags.JSON {
		a.Output = output.New(output.Options{Format: output.FormatJSON, Writer: a.Stdout})
	} else if a.Flags.Styled {
		a.Output = output.New(output.Options{Format: output.FormatStyled, Writer: a.Stdout})
	}

	// debug: true in config (or OAUTH1_DEBUG) is full tracing
	verboseLevel := a.Flags.Verbose
	if a.Config != nil && a.Config.Debug && verboseLevel < 2 {
		verboseLevel = 2
	}

	if a.Hooks != nil {
		a.Hooks.SetLevel(verboseLevel)
	}

	if verboseLevel > 0 {
		a.Logger = newLogger(a.Stderr, slog.LevelDebug)
	}
}

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		opts = append(opts, output.WithMeta("stats", a.Collector.Summary().ToMap()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		a.printStatsToStderr(a.Collector.Summary())
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
// Checks both flags and config-driven format settings.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.JSON {
		return true
	}
	if a.Config != nil && a.Config.Format == "quiet" {
		return true
	}
	return false
}

// printStatsToStderr outputs a compact stats line to stderr.
func (a *App) printStatsToStderr(stats observability.SessionMetrics) {
	parts := stats.FormatParts()
	if len(parts) > 0 {
		fmt.Fprintf(a.Stderr, "\nStats: %s\n", strings.Join(parts, " | "))
	}
}

// IsInteractive returns true if stdin and stdout are terminals and no
// machine output mode is set.
func (a *App) IsInteractive() bool {
	if a.isMachineOutput() {
		return false
	}
	for _, f := range []*os.File{os.Stdin, os.Stdout} {
		fi, err := f.Stat()
		if err != nil || (fi.Mode()&os.ModeCharDevice) == 0 {
			return false
		}
	}
	return true
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
