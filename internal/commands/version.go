package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basecamp/oauth1-cli/internal/appctx"
	"github.com/basecamp/oauth1-cli/internal/output"
	"github.com/basecamp/oauth1-cli/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version": version.Version,
				"commit":  version.Commit,
				"date":    version.Date,
			}
			// version skips app setup, so the app is usually absent
			if app := appctx.FromContext(cmd.Context()); app != nil {
				return app.OK(info, output.WithSummary(version.Full()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return nil
		},
	}
}
