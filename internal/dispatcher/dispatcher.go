// Package dispatcher bridges MCP verbs to Registry and Plugin operations
// (spec §4.6) and fans out the two notification types a running server
// must propagate: plugin-initiated tools/list_changed and client-initiated
// roots/list_changed.
package dispatcher

import (
	"context"
	"sync"

	"github.com/hyper-mcp/hyper-mcp/internal/hlog"
	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
	"github.com/hyper-mcp/hyper-mcp/internal/plugin"
	"github.com/hyper-mcp/hyper-mcp/internal/registry"
)

// ToolListChangedNotifier publishes an MCP notifications/tools/list_changed
// to every connected client. Implemented by the gatewayserver adapter.
type ToolListChangedNotifier interface {
	NotifyToolListChanged(ctx context.Context)
}

// Dispatcher is the single entry point the transport adapter calls for
// every MCP verb spec §4.6 enumerates.
type Dispatcher struct {
	reg *registry.Registry

	mu       sync.Mutex
	notifier ToolListChangedNotifier
}

// New builds a Dispatcher over reg. SetNotifier must be called before any
// plugin can usefully call notify_tool_list_changed.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// SetNotifier wires the transport-level fan-out target. Called once during
// server startup, after the gateway server is constructed but before plugins
// are loaded and before any transport starts, so the first
// notify_tool_list_changed has somewhere to go.
func (d *Dispatcher) SetNotifier(n ToolListChangedNotifier) {
	d.mu.Lock()
	d.notifier = n
	d.mu.Unlock()
}

// HandleToolListChanged re-invokes list_tools on p and, on success, fans
// out notifications/tools/list_changed to every connected client
// (spec §4.6). The loader wires this as a Plugin's sandbox.Hooks.NotifyTools
// callback, dispatched on its own goroutine: that callback fires from
// inside a guest export call still holding the Plugin's mutex, so
// RefreshTools (which takes the same mutex) must run after that call
// returns, matching spec scenario 5's required response-then-notification
// ordering.
func (d *Dispatcher) HandleToolListChanged(ctx context.Context, p *plugin.Plugin) {
	if err := p.RefreshTools(ctx); err != nil {
		hlog.Error("refreshing tool cache after notify_tool_list_changed", "plugin", p.Ref.Name, "err", err)
		return
	}
	d.mu.Lock()
	notifier := d.notifier
	d.mu.Unlock()
	if notifier != nil {
		notifier.NotifyToolListChanged(ctx)
	}
}

// ListTools implements the tools/list MCP method.
func (d *Dispatcher) ListTools(_ context.Context, cursor string) (mcpschema.ListToolsResult, error) {
	return d.reg.ListTools(cursor)
}

// CallTool implements the tools/call MCP method.
func (d *Dispatcher) CallTool(ctx context.Context, params mcpschema.CallToolParams) (mcpschema.CallToolResult, error) {
	p, err := d.reg.FindTool(params.Name)
	if err != nil {
		return mcpschema.CallToolResult{}, err
	}
	return p.CallTool(ctx, params)
}

// ListResources implements the resources/list MCP method.
func (d *Dispatcher) ListResources(_ context.Context, cursor string) (mcpschema.ListResourcesResult, error) {
	return d.reg.ListResources(cursor)
}

// ListResourceTemplates implements the resources/templates/list MCP method.
func (d *Dispatcher) ListResourceTemplates(_ context.Context, cursor string) (mcpschema.ListResourceTemplatesResult, error) {
	return d.reg.ListResourceTemplates(cursor)
}

// ReadResource implements the resources/read MCP method.
func (d *Dispatcher) ReadResource(ctx context.Context, params mcpschema.ReadResourceParams) (mcpschema.ReadResourceResult, error) {
	p, err := d.reg.FindResource(params.URI)
	if err != nil {
		return mcpschema.ReadResourceResult{}, err
	}
	return p.ReadResource(ctx, params)
}

// ListPrompts implements the prompts/list MCP method.
func (d *Dispatcher) ListPrompts(_ context.Context, cursor string) (mcpschema.ListPromptsResult, error) {
	return d.reg.ListPrompts(cursor)
}

// GetPrompt implements the prompts/get MCP method.
func (d *Dispatcher) GetPrompt(ctx context.Context, params mcpschema.GetPromptParams) (mcpschema.GetPromptResult, error) {
	p, err := d.reg.FindPrompt(params.Name)
	if err != nil {
		return mcpschema.GetPromptResult{}, err
	}
	return p.GetPrompt(ctx, params)
}

// Complete implements the completion/complete MCP method: the ref names
// either a prompt or a resource, whose owning plugin handles completion
// (spec §4.6).
func (d *Dispatcher) Complete(ctx context.Context, params mcpschema.CompleteParams) (mcpschema.CompleteResult, error) {
	var (
		p   *plugin.Plugin
		err error
	)
	switch params.Ref.Type {
	case "ref/prompt":
		p, err = d.reg.FindPrompt(params.Ref.Name)
	case "ref/resource":
		p, err = d.reg.FindResource(params.Ref.URI)
	default:
		return mcpschema.CompleteResult{}, &unknownRefTypeError{refType: params.Ref.Type}
	}
	if err != nil {
		return mcpschema.CompleteResult{}, err
	}
	return p.Complete(ctx, params)
}

// NotifyRootsListChanged implements notifications/roots/list_changed:
// fan-out to every Plugin (spec §4.6 leaves "registered interest"
// unspecified at the wire level, so every Ready plugin's
// on_roots_list_changed export is offered the notification and may ignore
// it).
func (d *Dispatcher) NotifyRootsListChanged(ctx context.Context, params mcpschema.RootsListChangedParams) {
	for _, p := range d.reg.Plugins() {
		if p.Status().State != plugin.StateReady {
			continue
		}
		p.NotifyRootsListChanged(ctx, params)
	}
}

type unknownRefTypeError struct{ refType string }

func (e *unknownRefTypeError) Error() string { return "unknown completion ref type: " + e.refType }
