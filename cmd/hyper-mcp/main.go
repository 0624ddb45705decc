// Command hyper-mcp runs WASM plugins behind a single MCP server (spec §1).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hyper-mcp/hyper-mcp/cmd/hyper-mcp/commands"
)

func main() {
	ctx := context.Background()
	if err := commands.Root(ctx).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
