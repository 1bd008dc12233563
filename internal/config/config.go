// Package config provides layered configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/basecamp/oauth1-cli/internal/hostutil"
)

// Config holds the resolved configuration.
type Config struct {
	// Provider profiles (named endpoint+consumer bundles)
	Providers       map[string]*ProviderConfig `yaml:"providers,omitempty"`
	DefaultProvider string                     `yaml:"default_provider,omitempty"`
	ActiveProvider  string                     `yaml:"-"` // Set at runtime, not persisted

	// Consumer overrides applied on top of the active provider
	ConsumerKey    string `yaml:"-"`
	ConsumerSecret string `yaml:"-"`
	Callback       string `yaml:"-"`

	// Credential storage
	CredentialsDir string `yaml:"credentials_dir"`
	NoKeyring      bool   `yaml:"no_keyring"`

	// Sign-in behavior
	NetworkLossTimeout time.Duration `yaml:"network_loss_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`

	// Output settings
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`
}

// ProviderConfig holds the endpoints and consumer credentials of one
// OAuth 1.0a service provider.
type ProviderConfig struct {
	RequestTokenURL  string `yaml:"request_token_url"`
	AuthorizeURL     string `yaml:"authorize_url"`
	AccessTokenURL   string `yaml:"access_token_url"`
	ConsumerKey      string `yaml:"consumer_key"`
	ConsumerSecret   string `yaml:"consumer_secret,omitempty"`
	SignatureMethod  string `yaml:"signature_method,omitempty"`
	PrivateKeyFile   string `yaml:"private_key_file,omitempty"`
	Callback         string `yaml:"callback,omitempty"`
	Scope            string `yaml:"scope,omitempty"`
	DisplayName      string `yaml:"display_name,omitempty"`
	Language         string `yaml:"language,omitempty"`
	CancelURLPattern string `yaml:"cancel_url_pattern,omitempty"`

	// ServiceName keys the stored credentials. Defaults to the provider name.
	ServiceName string `yaml:"service_name,omitempty"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// DefaultCallback is the loopback address the local callback server binds.
const DefaultCallback = "http://127.0.0.1:8976/callback"

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Provider       string
	CredentialsDir string
	Callback       string
	Format         string
	NoKeyring      bool
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		CredentialsDir:     GlobalConfigDir(),
		NetworkLossTimeout: 30 * time.Second,
		RequestTimeout:     30 * time.Second,
		Format:             "auto",
		Sources:            make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > local > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, globalConfigPath(), SourceGlobal)
	loadFromFile(cfg, localConfigPath(), SourceLocal)

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

// fileLayer is the on-disk shape. Pointers distinguish unset from zero.
type fileLayer struct {
	Providers          map[string]*ProviderConfig `yaml:"providers"`
	DefaultProvider    *string                    `yaml:"default_provider"`
	CredentialsDir     *string                    `yaml:"credentials_dir"`
	NoKeyring          *bool                      `yaml:"no_keyring"`
	NetworkLossTimeout *time.Duration             `yaml:"network_loss_timeout"`
	RequestTimeout     *time.Duration             `yaml:"request_timeout"`
	Format             *string                    `yaml:"format"`
	Debug              *bool                      `yaml:"debug"`
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var layer fileLayer
	if err := yaml.Unmarshal(data, &layer); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	// Authority keys decide where consumer secrets and tokens are sent. A
	// config file in the working directory must not set them.
	untrusted := source == SourceLocal

	if layer.Providers != nil {
		if untrusted {
			fmt.Fprintf(os.Stderr, "warning: ignoring providers from %s config at %s (authority keys are not trusted from local config)\n", source, path)
		} else {
			if cfg.Providers == nil {
				cfg.Providers = make(map[string]*ProviderConfig)
			}
			for name, p := range layer.Providers {
				if p == nil || p.RequestTokenURL == "" {
					// Skip providers without endpoints
					continue
				}
				cfg.Providers[name] = p
				cfg.Sources["providers."+name] = string(source)
			}
		}
	}
	if layer.DefaultProvider != nil && *layer.DefaultProvider != "" {
		if untrusted {
			fmt.Fprintf(os.Stderr, "warning: ignoring default_provider %q from %s config at %s (authority keys are not trusted from local config)\n", *layer.DefaultProvider, source, path)
		} else {
			cfg.DefaultProvider = *layer.DefaultProvider
			cfg.Sources["default_provider"] = string(source)
		}
	}
	if layer.CredentialsDir != nil && *layer.CredentialsDir != "" {
		if untrusted {
			fmt.Fprintf(os.Stderr, "warning: ignoring credentials_dir from %s config at %s (authority keys are not trusted from local config)\n", source, path)
		} else {
			cfg.CredentialsDir = *layer.CredentialsDir
			cfg.Sources["credentials_dir"] = string(source)
		}
	}
	if layer.NoKeyring != nil {
		cfg.NoKeyring = *layer.NoKeyring
		cfg.Sources["no_keyring"] = string(source)
	}
	if layer.NetworkLossTimeout != nil && *layer.NetworkLossTimeout >= 0 {
		cfg.NetworkLossTimeout = *layer.NetworkLossTimeout
		cfg.Sources["network_loss_timeout"] = string(source)
	}
	if layer.RequestTimeout != nil && *layer.RequestTimeout > 0 {
		cfg.RequestTimeout = *layer.RequestTimeout
		cfg.Sources["request_timeout"] = string(source)
	}
	if layer.Format != nil && *layer.Format != "" {
		cfg.Format = *layer.Format
		cfg.Sources["format"] = string(source)
	}
	if layer.Debug != nil {
		cfg.Debug = *layer.Debug
		cfg.Sources["debug"] = string(source)
	}
}

// envLayer holds raw environment values.
type envLayer struct {
	Provider           string        `env:"OAUTH1_PROVIDER"`
	ConsumerKey        string        `env:"OAUTH1_CONSUMER_KEY"`
	ConsumerSecret     string        `env:"OAUTH1_CONSUMER_SECRET"`
	Callback           string        `env:"OAUTH1_CALLBACK"`
	CredentialsDir     string        `env:"OAUTH1_CREDENTIALS_DIR"`
	NoKeyring          string        `env:"OAUTH1_NO_KEYRING"`
	NetworkLossTimeout time.Duration `env:"OAUTH1_NETWORK_LOSS_TIMEOUT"`
	RequestTimeout     time.Duration `env:"OAUTH1_REQUEST_TIMEOUT"`
	Format             string        `env:"OAUTH1_FORMAT"`
	Debug              string        `env:"OAUTH1_DEBUG"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) error {
	var e envLayer
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if e.Provider != "" {
		cfg.DefaultProvider = e.Provider
		cfg.Sources["default_provider"] = string(SourceEnv)
	}
	if e.ConsumerKey != "" {
		cfg.ConsumerKey = e.ConsumerKey
		cfg.Sources["consumer_key"] = string(SourceEnv)
	}
	if e.ConsumerSecret != "" {
		cfg.ConsumerSecret = e.ConsumerSecret
		cfg.Sources["consumer_secret"] = string(SourceEnv)
	}
	if e.Callback != "" {
		cfg.Callback = e.Callback
		cfg.Sources["callback"] = string(SourceEnv)
	}
	if e.CredentialsDir != "" {
		cfg.CredentialsDir = e.CredentialsDir
		cfg.Sources["credentials_dir"] = string(SourceEnv)
	}
	if b, ok := parseEnvBool(e.NoKeyring); ok {
		cfg.NoKeyring = b
		cfg.Sources["no_keyring"] = string(SourceEnv)
	}
	if e.NetworkLossTimeout > 0 {
		cfg.NetworkLossTimeout = e.NetworkLossTimeout
		cfg.Sources["network_loss_timeout"] = string(SourceEnv)
	}
	if e.RequestTimeout > 0 {
		cfg.RequestTimeout = e.RequestTimeout
		cfg.Sources["request_timeout"] = string(SourceEnv)
	}
	if e.Format != "" {
		cfg.Format = e.Format
		cfg.Sources["format"] = string(SourceEnv)
	}
	if b, ok := parseEnvBool(e.Debug); ok {
		cfg.Debug = b
		cfg.Sources["debug"] = string(SourceEnv)
	}
	return nil
}

// parseEnvBool parses a boolean environment variable strictly.
// Returns (value, true) for recognized values, (false, false) otherwise.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Provider != "" {
		cfg.DefaultProvider = o.Provider
		cfg.Sources["default_provider"] = string(SourceFlag)
	}
	if o.CredentialsDir != "" {
		cfg.CredentialsDir = o.CredentialsDir
		cfg.Sources["credentials_dir"] = string(SourceFlag)
	}
	if o.Callback != "" {
		cfg.Callback = o.Callback
		cfg.Sources["callback"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if o.NoKeyring {
		cfg.NoKeyring = true
		cfg.Sources["no_keyring"] = string(SourceFlag)
	}
}

// ErrNoProvider is returned when no provider is selected or configured.
var ErrNoProvider = errors.New("no provider configured")

// ProviderNames returns configured provider names in sorted order.
func (cfg *Config) ProviderNames() []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveProvider returns a copy of the selected provider with consumer
// overrides applied, and records it as the active provider. With a single
// provider configured and none selected, that provider is used.
func (cfg *Config) ResolveProvider() (*ProviderConfig, error) {
	name := cfg.DefaultProvider
	if name == "" {
		names := cfg.ProviderNames()
		if len(names) != 1 {
			return nil, ErrNoProvider
		}
		name = names[0]
	}
	p, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", name)
	}

	resolved := *p
	if cfg.ConsumerKey != "" {
		resolved.ConsumerKey = cfg.ConsumerKey
	}
	if cfg.ConsumerSecret != "" {
		resolved.ConsumerSecret = cfg.ConsumerSecret
	}
	if cfg.Callback != "" {
		resolved.Callback = cfg.Callback
	}
	resolved.Callback = hostutil.NormalizeCallback(resolved.Callback)
	if resolved.Callback == "" {
		resolved.Callback = DefaultCallback
	}
	for _, endpoint := range []string{resolved.RequestTokenURL, resolved.AuthorizeURL, resolved.AccessTokenURL} {
		if err := hostutil.RequireSecureURL(endpoint); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
	}
	if resolved.ServiceName == "" {
		resolved.ServiceName = name
	}

	cfg.ActiveProvider = name
	return &resolved, nil
}

// Path helpers

func systemConfigPath() string {
	return "/etc/oauth1/config.yaml"
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.yaml")
}

func localConfigPath() string {
	return filepath.Join(".oauth1", "config.yaml")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "oauth1")
}
