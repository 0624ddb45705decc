package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags, matching
// docker-mcp-gateway's cmd/docker-mcp/version package convention.
var version = "dev"

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
