// Package cli wires the root command, global flags and error exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/basecamp/oauth1-cli/internal/appctx"
	"github.com/basecamp/oauth1-cli/internal/commands"
	"github.com/basecamp/oauth1-cli/internal/config"
	"github.com/basecamp/oauth1-cli/internal/output"
	"github.com/basecamp/oauth1-cli/internal/version"
)

// Commands that never act on a single provider skip provider selection.
var providerFree = map[string]bool{
	"help":         true,
	"version":      true,
	"commands":     true,
	"status":       true,
	"show":         true,
	"config":       true,
	"add-provider": true,
	"migrate":      true,
}

// providerPicker is swapped in tests.
var providerPicker = promptForProvider

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "oauth1",
		Short:         "Command-line OAuth 1.0a client",
		Long:          "oauth1 signs in to OAuth 1.0a providers, stores the access tokens, and signs requests with them.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				Provider:       flags.Provider,
				CredentialsDir: flags.CredentialsDir,
				Callback:       flags.Callback,
				NoKeyring:      flags.NoKeyring,
			})
			if err != nil {
				return output.ErrUsage(err.Error())
			}

			app := appctx.NewApp(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			app.Flags = flags
			app.ApplyFlags()

			if !providerFree[cmd.Name()] {
				if err := selectProvider(cfg, app); err != nil {
					return err
				}
			}

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")

	// Provider flags
	cmd.PersistentFlags().StringVarP(&flags.Provider, "provider", "p", "", "Provider profile name")
	cmd.PersistentFlags().StringVar(&flags.Callback, "callback", "", `Callback URL, port, or "oob"`)
	cmd.PersistentFlags().StringVar(&flags.CredentialsDir, "credentials-dir", "", "Directory for file-based credential storage")
	cmd.PersistentFlags().BoolVar(&flags.NoKeyring, "no-keyring", false, "Store credentials in a file instead of the system keyring")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for phases, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	return cmd
}

// NewApplication builds the root command with every subcommand attached.
func NewApplication() *cobra.Command {
	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewSignCmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewCommandsCmd())
	cmd.AddCommand(commands.NewVersionCmd())

	return cmd
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, NewApplication(), os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// Run executes cmd with args and returns the process exit code.
func Run(ctx context.Context, cmd *cobra.Command, args []string, stdout io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)

	// Use ExecuteContextC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteContextC(ctx)
	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Try to use app.Err() if app is available (for --stats support)
	if app := appctx.FromContext(executedCmd.Context()); app != nil {
		_ = app.Err(err)
		return apiErr.ExitCode()
	}

	// Fallback: output error directly (app not available, e.g., during setup)
	pf := cmd.PersistentFlags()
	format := output.FormatAuto // TTY → styled, non-TTY → JSON
	quiet, _ := pf.GetBool("quiet")
	styled, _ := pf.GetBool("styled")
	jsonFlag, _ := pf.GetBool("json")

	if quiet {
		format = output.FormatQuiet
	} else if jsonFlag {
		format = output.FormatJSON
	} else if styled {
		format = output.FormatStyled
	}

	writer := output.New(output.Options{Format: format, Writer: stdout})
	_ = writer.Err(err)

	return apiErr.ExitCode()
}

// selectProvider prompts for a provider when several are configured, none
// is selected, and the terminal is interactive.
func selectProvider(cfg *config.Config, app *appctx.App) error {
	if cfg.DefaultProvider != "" || len(cfg.Providers) < 2 || !app.IsInteractive() {
		return nil
	}

	name, err := providerPicker(cfg)
	if err != nil {
		return err
	}
	if name == "" {
		return output.ErrUsage("provider selection canceled")
	}
	cfg.DefaultProvider = name
	cfg.Sources["default_provider"] = "prompt"
	return nil
}

// promptForProvider shows an interactive picker for provider selection.
func promptForProvider(cfg *config.Config) (string, error) {
	names := cfg.ProviderNames()
	options := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		label := fmt.Sprintf("%s  %s", name, cfg.Providers[name].AuthorizeURL)
		options = append(options, huh.NewOption(label, name))
	}

	var selected string
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Which provider?").
			Options(options...).
			Value(&selected),
	)).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", nil
		}
		return "", err
	}
	return selected, nil
}

// transformCobraError turns Cobra's default error messages into usage
// errors with friendlier wording.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		re := regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: oauth1 commands")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	// "requires at least N arg(s)" / "accepts N arg(s)"
	if strings.Contains(msg, "arg(s)") {
		return output.ErrUsage(msg)
	}

	// "required flag(s) "x" not set" → "--x required"
	if strings.HasPrefix(msg, "required flag(s) ") {
		re := regexp.MustCompile(`required flag\(s\) "([\w-]+)"`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("--" + matches[1] + " required")
		}
	}

	return err
}
