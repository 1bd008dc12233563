package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basecamp/oauth1-cli/internal/appctx"
	"github.com/basecamp/oauth1-cli/internal/config"
	"github.com/basecamp/oauth1-cli/internal/credstore"
	"github.com/basecamp/oauth1-cli/internal/oauth1"
	"github.com/basecamp/oauth1-cli/internal/output"
	"github.com/basecamp/oauth1-cli/internal/signin"
)

// requireApp returns the app stored on the command context.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// resolveProvider selects the active provider, turning configuration
// problems into usage errors.
func resolveProvider(app *appctx.App) (*config.ProviderConfig, error) {
	p, err := app.Config.ResolveProvider()
	if errors.Is(err, config.ErrNoProvider) {
		if names := app.Config.ProviderNames(); len(names) > 1 {
			return nil, output.ErrUsageHint("Multiple providers configured",
				"Use --provider or set default_provider in config")
		}
		return nil, output.ErrUsageHint("No provider configured",
			"Add a provider under providers: in "+config.GlobalConfigDir()+"/config.yaml")
	}
	if err != nil {
		return nil, output.ErrUsage(err.Error())
	}
	return p, nil
}

// newAuthState builds the consumer identity for p without tokens.
func newAuthState(p *config.ProviderConfig) (*oauth1.AuthenticationState, error) {
	if p.ConsumerKey == "" {
		return nil, output.ErrUsageHint("Consumer key not set",
			"Set consumer_key for the provider or OAUTH1_CONSUMER_KEY")
	}

	method, err := oauth1.ParseSignatureMethod(p.SignatureMethod)
	if err != nil {
		return nil, output.ErrUsage(err.Error())
	}

	var auth *oauth1.AuthenticationState
	switch method {
	case oauth1.RSASHA1:
		if p.PrivateKeyFile == "" {
			return nil, output.ErrUsage("RSA-SHA1 requires private_key_file")
		}
		data, err := os.ReadFile(p.PrivateKeyFile)
		if err != nil {
			return nil, output.ErrUsage(fmt.Sprintf("read private key: %v", err))
		}
		key, err := oauth1.ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, output.ErrUsage(fmt.Sprintf("private key %s: %v", p.PrivateKeyFile, err))
		}
		auth = oauth1.NewRSA(p.ConsumerKey, key)
	default:
		auth = oauth1.NewHMAC(p.ConsumerKey, p.ConsumerSecret)
		auth.SignatureMethod = method
	}

	auth.Callback = p.Callback
	auth.Scope = p.Scope
	auth.DisplayName = p.DisplayName
	auth.ServiceProvider = p.ServiceName
	return auth, nil
}

// loadAuthorized returns the provider's identity with its stored access
// token, or an auth error when none is stored.
func loadAuthorized(app *appctx.App, p *config.ProviderConfig) (*oauth1.AuthenticationState, error) {
	auth, err := newAuthState(p)
	if err != nil {
		return nil, err
	}
	if err := app.Store.LoadE(p.ServiceName, auth); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, output.ErrAuth(fmt.Sprintf("Not signed in to %s", p.ServiceName))
		}
		return nil, output.ErrStorage(err)
	}
	return auth, nil
}

// backendName describes where credentials are kept.
func backendName(store *credstore.Store) string {
	switch store.Backend().(type) {
	case *credstore.KeyringBackend:
		return "keyring"
	case *credstore.FileBackend:
		return "file"
	default:
		return "custom"
	}
}

// signInError maps a terminal session error to a CLI error.
func signInError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, signin.ErrUserCanceled):
		e := output.ErrCanceled(err)
		if errors.Is(err, context.DeadlineExceeded) {
			e.Message = "Timed out waiting for authorization"
			e.Hint = "Rerun with a longer --timeout"
		}
		return e
	case errors.Is(err, signin.ErrCallbackMismatch):
		return output.ErrCallbackMismatch(err)
	case errors.Is(err, signin.ErrAccessTokenExchangeFailed):
		return output.ErrAccessToken(err)
	case errors.Is(err, signin.ErrTokenRequestFailed):
		return output.ErrTokenRequest(err)
	case errors.Is(err, signin.ErrSurfaceFailed):
		return output.ErrUsageHint("Could not receive the provider callback", err.Error())
	default:
		return err
	}
}
