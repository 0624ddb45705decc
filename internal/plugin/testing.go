package plugin

import (
	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

// NewForTesting builds a Plugin with no underlying sandbox, for registry and
// dispatcher tests that need to assert listing/collision/fan-out behavior
// without instantiating a real WebAssembly module.
func NewForTesting(
	ref pluginref.PluginRef,
	status Status,
	tools mcpschema.ListToolsResult,
	resources mcpschema.ListResourcesResult,
	templates mcpschema.ListResourceTemplatesResult,
	prompts mcpschema.ListPromptsResult,
) *Plugin {
	return &Plugin{
		Ref:       ref,
		status:    status,
		tools:     tools,
		resources: resources,
		templates: templates,
		prompts:   prompts,
	}
}
