// Package commands implements the CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/basecamp/oauth1-cli/internal/appctx"
	"github.com/basecamp/oauth1-cli/internal/config"
	"github.com/basecamp/oauth1-cli/internal/credstore"
	"github.com/basecamp/oauth1-cli/internal/navigation"
	"github.com/basecamp/oauth1-cli/internal/oauth1"
	"github.com/basecamp/oauth1-cli/internal/output"
	"github.com/basecamp/oauth1-cli/internal/reachability"
	"github.com/basecamp/oauth1-cli/internal/signin"
	"github.com/basecamp/oauth1-cli/internal/surface"
)

// Swapped in tests.
var (
	browserOpener  surface.BrowserOpener = surface.OpenBrowser
	verifierPrompt surface.Prompter      = surface.PromptVerifier
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Sign in to OAuth 1.0a providers, and inspect or remove stored access tokens.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthTokenCmd(),
		newAuthMigrateCmd(),
	)

	return cmd
}

type loginOptions struct {
	noBrowser bool
	timeout   time.Duration
	force     bool

	// clock drives the network-loss monitor and provider probes; nil uses
	// the real clock.
	clock clockwork.Clock
}

func newAuthLoginCmd() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a provider",
		Long: `Run the three-legged OAuth 1.0a flow against the active provider.

A request token is fetched, the provider's authorization page is opened in
your browser, and the callback is received on a local listener at the
provider's callback address. With callback "oob" the provider shows a
verification code instead, which you paste at the prompt.

The access token is stored in the system keyring (or a file with --no-keyring).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), app, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noBrowser, "no-browser", false, "Don't open browser automatically")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Give up if authorization takes longer (0 = wait forever)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Sign in again even if a token is stored")

	return cmd
}

func runLogin(ctx context.Context, app *appctx.App, opts loginOptions) error {
	p, err := resolveProvider(app)
	if err != nil {
		return err
	}
	auth, err := newAuthState(p)
	if err != nil {
		return err
	}

	if !opts.force {
		existing := *auth
		if app.Store.Load(p.ServiceName, &existing) {
			return app.OK(map[string]any{
				"provider":   app.Config.ActiveProvider,
				"status":     "authorized",
				"authorized": true,
				"backend":    backendName(app.Store),
			}, output.WithSummary(fmt.Sprintf("Already signed in to %s", p.ServiceName)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "login",
					Cmd:         "oauth1 auth login --force",
					Description: "Sign in again",
				}))
		}
	}

	sf, attach, err := newSurface(app, p, opts)
	if err != nil {
		return err
	}

	session, err := signin.New(signin.Endpoints{
		RequestTokenURL:   p.RequestTokenURL,
		AuthorizeTokenURL: p.AuthorizeURL,
		AccessTokenURL:    p.AccessTokenURL,
		Language:          p.Language,
		CancelURLPattern:  p.CancelURLPattern,
	}, auth, app.Transport, sf,
		signin.WithLogger(app.Logger),
		signin.WithHooks(app.Hooks),
		signin.WithSigner(app.Signer),
		signin.WithClock(opts.clock),
		signin.WithNetworkLossTimeout(app.Config.NetworkLossTimeout),
		signin.WithInitialContent(fmt.Sprintf("Signing in to %s...", p.ServiceName)),
		signin.OnNetworkLost(func() {
			fmt.Fprintf(app.Stderr, "Can't reach %s. Check your connection; the sign-in is still waiting.\n", p.ServiceName)
		}),
	)
	if err != nil {
		return output.ErrUsage(err.Error())
	}
	attach(session)

	runCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	if err := session.Start(runCtx); err != nil {
		return err
	}

	// Neither surface sees the user's browser, so probe the provider to
	// tell a thinking user apart from a lost network.
	if interval := reachability.ProbeInterval(app.Config.NetworkLossTimeout); interval > 0 {
		probeCtx, stopProbe := context.WithCancel(runCtx)
		defer stopProbe()
		prober := reachability.NewProber(opts.clock, app.Transport, p.AuthorizeURL, interval)
		go prober.Run(probeCtx, session.PageLoaded)
	}

	// The session ends on its own once runCtx is done, so wait unbounded.
	result, err := session.Wait(context.Background())
	if err != nil {
		return signInError(err)
	}

	if err := app.Store.SaveE(p.ServiceName, result); err != nil {
		return output.ErrStorage(err)
	}

	data := map[string]any{
		"provider":   app.Config.ActiveProvider,
		"status":     "authorized",
		"authorized": true,
		"backend":    backendName(app.Store),
	}
	if result.UserEmail != "" {
		data["user_email"] = result.UserEmail
	}

	return app.OK(data,
		output.WithSummary(fmt.Sprintf("Signed in to %s", p.ServiceName)),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "sign",
				Cmd:         "oauth1 sign GET <url>",
				Description: "Sign a request",
			},
			output.Breadcrumb{
				Action:      "status",
				Cmd:         "oauth1 auth status",
				Description: "Show stored tokens",
			},
		),
	)
}

// newSurface picks the interactive surface for the provider's callback.
func newSurface(app *appctx.App, p *config.ProviderConfig, opts loginOptions) (signin.Surface, func(surface.Navigator), error) {
	if p.Callback == navigation.OutOfBand {
		var open surface.BrowserOpener
		if !opts.noBrowser {
			open = browserOpener
		}
		oob := surface.NewOutOfBand(
			surface.OutOfBandOutput(app.Stderr),
			surface.OutOfBandBrowser(open),
			surface.OutOfBandLogger(app.Logger),
			surface.WithPrompter(verifierPrompt),
		)
		return oob, oob.Attach, nil
	}

	loopOpts := []surface.LoopbackOption{
		surface.WithOutput(app.Stderr),
		surface.WithBrowserOpener(browserOpener),
		surface.WithLogger(app.Logger),
	}
	if opts.noBrowser {
		loopOpts = append(loopOpts, surface.WithoutBrowser())
	}
	lb, err := surface.NewLoopback(p.Callback, loopOpts...)
	if err != nil {
		return nil, nil, output.ErrUsageHint(err.Error(), `Use a loopback callback such as http://127.0.0.1:8976/callback, or "oob"`)
	}
	return lb, lb.Attach, nil
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long:  "Remove the stored access token for the active provider.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			p, err := resolveProvider(app)
			if err != nil {
				return err
			}

			status := "logged_out"
			summary := fmt.Sprintf("Signed out of %s", p.ServiceName)
			if err := app.Store.RemoveE(p.ServiceName); err != nil {
				if !errors.Is(err, credstore.ErrNotFound) {
					return output.ErrStorage(err)
				}
				status = "not_signed_in"
				summary = fmt.Sprintf("Not signed in to %s", p.ServiceName)
			}

			return app.OK(map[string]string{
				"provider": app.Config.ActiveProvider,
				"status":   status,
			}, output.WithSummary(summary))
		},
	}
}

type providerStatus struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Authorized  bool   `json:"authorized"`
	ServiceName string `json:"service_name"`
	Source      string `json:"source"`
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "List configured providers and whether an access token is stored for each.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			names := app.Config.ProviderNames()
			if len(names) == 0 {
				_, err := resolveProvider(app)
				return err
			}

			rows := make([]providerStatus, 0, len(names))
			authorized := 0
			for _, name := range names {
				serviceName := app.Config.Providers[name].ServiceName
				if serviceName == "" {
					serviceName = name
				}
				row := providerStatus{
					Name:        name,
					Status:      "signed out",
					ServiceName: serviceName,
					Source:      app.Config.Sources["providers."+name],
				}

				// Probe with a throwaway state; only the token pair matters here.
				var probe oauth1.AuthenticationState
				switch err := app.Store.LoadE(serviceName, &probe); {
				case err == nil:
					row.Status, row.Authorized = "authorized", true
					authorized++
				case !errors.Is(err, credstore.ErrNotFound):
					row.Status = "unreadable"
					app.Logger.Debug("credential status check failed", "provider", name, "error", err)
				}
				rows = append(rows, row)
			}

			return app.OK(rows,
				output.WithSummary(fmt.Sprintf("%d of %d providers signed in", authorized, len(rows))),
				output.WithMeta("backend", backendName(app.Store)),
			)
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	var secret bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the stored access token",
		Long: `Print the stored access token for the active provider.

Examples:
  export PHOTOS_TOKEN=$(oauth1 --provider photos auth token)
  oauth1 auth token --secret    # Print the token secret instead

Output modes:
  oauth1 auth token           # Raw token (default, for shell substitution)
  oauth1 auth token --json    # JSON envelope with token and secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			p, err := resolveProvider(app)
			if err != nil {
				return err
			}
			auth, err := loadAuthorized(app, p)
			if err != nil {
				return err
			}

			if app.Flags.JSON {
				return app.OK(map[string]string{
					oauth1.ParamToken:       auth.Token,
					oauth1.ParamTokenSecret: auth.TokenSecret,
				})
			}

			value := auth.Token
			if secret {
				value = auth.TokenSecret
			}
			fmt.Fprintln(app.Stdout, value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&secret, "secret", false, "Print the token secret instead of the token")

	return cmd
}

func newAuthMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move file credentials into the system keyring",
		Long: `Copy every token stored in the plaintext credentials file into the system
keyring, then delete the file. Use this after a keyring becomes available on a
machine that previously fell back to file storage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			return runMigrate(app)
		},
	}
}

func runMigrate(app *appctx.App) error {
	if app.Config.NoKeyring {
		return output.ErrUsageHint("Keyring storage is disabled",
			"Unset OAUTH1_NO_KEYRING and drop --no-keyring to migrate")
	}
	if !credstore.KeyringAvailable(credstore.KeyringService) {
		return output.ErrUsageHint("System keyring unavailable",
			"Credentials stay in "+credstore.NewFileBackend(app.Config.CredentialsDir).Path())
	}

	file := credstore.NewFileBackend(app.Config.CredentialsDir)
	n, err := credstore.MigrateToKeyring(file, credstore.NewKeyringBackend(credstore.KeyringService))
	if err != nil {
		return output.ErrStorage(err)
	}

	summary := fmt.Sprintf("Moved %d credential(s) to the system keyring", n)
	if n == 0 {
		summary = "No file credentials to migrate"
	}
	return app.OK(map[string]any{
		"migrated": n,
		"from":     file.Path(),
		"backend":  "keyring",
	}, output.WithSummary(summary))
}
