package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/basecamp/oauth1-cli/internal/config"
	"github.com/basecamp/oauth1-cli/internal/output"
)

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage oauth1 configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > local > global > system > defaults

Config locations:
  - System: /etc/oauth1/config.yaml
  - Global: ~/.config/oauth1/config.yaml
  - Local:  .oauth1/config.yaml (cannot define providers)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigAddProviderCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	cfg := app.Config

	configData := make(map[string]any)

	keys := []struct {
		key     string
		value   string
		include bool
	}{
		{"default_provider", cfg.DefaultProvider, cfg.DefaultProvider != ""},
		{"credentials_dir", cfg.CredentialsDir, cfg.CredentialsDir != ""},
		{"no_keyring", fmt.Sprintf("%t", cfg.NoKeyring), true},
		{"network_loss_timeout", cfg.NetworkLossTimeout.String(), true},
		{"request_timeout", cfg.RequestTimeout.String(), true},
		{"format", cfg.Format, cfg.Format != ""},
		{"consumer_key", "(set)", cfg.ConsumerKey != ""},
		{"callback", cfg.Callback, cfg.Callback != ""},
	}

	for _, k := range keys {
		if k.include {
			source := cfg.Sources[k.key]
			if source == "" {
				source = "default"
			}
			configData[k.key] = map[string]string{
				"value":  k.value,
				"source": source,
			}
		}
	}
	for _, name := range cfg.ProviderNames() {
		configData["providers."+name] = map[string]string{
			"value":  cfg.Providers[name].RequestTokenURL,
			"source": cfg.Sources["providers."+name],
		}
	}

	return app.OK(configData,
		output.WithSummary("Effective configuration"),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "add-provider",
				Cmd:         "oauth1 config add-provider <name> --request-token-url <url> ...",
				Description: "Add a provider",
			},
		),
	)
}

func newConfigAddProviderCmd() *cobra.Command {
	var p config.ProviderConfig
	var makeDefault bool

	cmd := &cobra.Command{
		Use:   "add-provider <name>",
		Short: "Add or replace a provider in the global config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			name := args[0]

			path := filepath.Join(config.GlobalConfigDir(), "config.yaml")
			if err := writeProvider(path, name, p, makeDefault); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"provider": name,
				"path":     path,
				"default":  makeDefault,
			},
				output.WithSummary(fmt.Sprintf("Saved provider %s to %s", name, path)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "login",
					Cmd:         fmt.Sprintf("oauth1 --provider %s auth login", name),
					Description: "Sign in",
				}),
			)
		},
	}

	cmd.Flags().StringVar(&p.RequestTokenURL, "request-token-url", "", "Request token endpoint")
	cmd.Flags().StringVar(&p.AuthorizeURL, "authorize-url", "", "User authorization page")
	cmd.Flags().StringVar(&p.AccessTokenURL, "access-token-url", "", "Access token endpoint")
	cmd.Flags().StringVar(&p.ConsumerKey, "consumer-key", "", "Consumer key")
	cmd.Flags().StringVar(&p.ConsumerSecret, "consumer-secret", "", "Consumer secret")
	cmd.Flags().StringVar(&p.SignatureMethod, "signature-method", "", "HMAC-SHA1 (default), RSA-SHA1 or PLAINTEXT")
	cmd.Flags().StringVar(&p.PrivateKeyFile, "private-key-file", "", "PEM private key for RSA-SHA1")
	cmd.Flags().StringVar(&p.Callback, "callback", "", "Callback URL, port, or oob")
	cmd.Flags().StringVar(&p.Scope, "scope", "", "Scope sent with the request token call")
	cmd.Flags().StringVar(&p.Language, "language", "", "Language hint for the authorization page")
	cmd.Flags().BoolVar(&makeDefault, "default", false, "Make this the default provider")
	_ = cmd.MarkFlagRequired("request-token-url")
	_ = cmd.MarkFlagRequired("authorize-url")
	_ = cmd.MarkFlagRequired("access-token-url")

	return cmd
}

// writeProvider merges a provider into the YAML config at path, keeping
// unrelated keys.
func writeProvider(path, name string, p config.ProviderConfig, makeDefault bool) error {
	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return output.ErrUsage(fmt.Sprintf("%s is not valid YAML: %v", path, err))
		}
		if doc == nil {
			doc = map[string]any{}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config: %w", err)
	}

	providers, _ := doc["providers"].(map[string]any)
	if providers == nil {
		providers = map[string]any{}
	}
	providers[name] = p
	doc["providers"] = providers
	if makeDefault {
		doc["default_provider"] = name
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return atomicWriteFile(path, data)
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when destination exists.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	} else { //nolint:revive // else-with-return kept for clarity of the two-branch pattern
		return err
	}
}
