// Package commands implements the hyper-mcp CLI tree (spec §6), grounded on
// docker-mcp-gateway's cmd/docker-mcp/commands package layout: one cobra
// command per concern, a brief custom help template, and a PersistentPreRunE
// for cross-cutting setup (root.go).
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hyper-mcp/hyper-mcp/internal/hlog"
)

const helpTemplate = `hyper-mcp - WASM plugin runtime and MCP gateway.
{{if .UseLine}}
Usage: {{.UseLine}}
{{end}}{{if .HasAvailableLocalFlags}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}{{if .HasAvailableSubCommands}}
Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand)}}  {{rpad .Name .NamePadding }} {{.Short}}
{{end}}{{end}}{{end}}
`

// Root returns the top-level hyper-mcp command.
func Root(ctx context.Context) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:              "hyper-mcp [OPTIONS]",
		Short:            "Run plugins compiled to WebAssembly behind one MCP server",
		TraverseChildren: true,
		SilenceUsage:     true,
		Version:          version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetContext(ctx)
			hlog.Init(debug)
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.SetHelpTemplate(helpTemplate)
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(runCommand())
	cmd.AddCommand(versionCommand())
	return cmd
}
