// Package plugin wraps one Sandbox with the caching and status-tracking
// behavior described in spec §4.4: on becoming Ready, a Plugin populates
// its tool/resource/prompt caches once, then serves listing requests from
// cache until invalidated.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
	"github.com/hyper-mcp/hyper-mcp/internal/sandbox"
	"github.com/hyper-mcp/hyper-mcp/internal/verify"
)

// Status is the lifecycle state of a Plugin.
type Status struct {
	State  State
	Reason string
}

type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
	StateRetired State = "retired"
)

func Ready() Status                { return Status{State: StateReady} }
func Loading() Status              { return Status{State: StateLoading} }
func Failed(reason string) Status  { return Status{State: StateFailed, Reason: reason} }
func Retired() Status              { return Status{State: StateRetired} }

func (s Status) String() string {
	if s.Reason == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Reason)
}

// Plugin is a shared handle to one loaded plugin. It is cheaply clonable by
// reference (spec §4.4); copy the pointer, never the struct.
type Plugin struct {
	Ref        pluginref.PluginRef
	Provenance verify.Provenance
	// Digest is the SHA-256 content digest of the fetched plugin bytes
	// (spec §3's PluginBinary), kept for diagnostics and cache-busting
	// comparisons independent of the ref's declared config_hash.
	Digest digest.Digest

	mu     sync.Mutex
	status Status
	sb     *sandbox.Sandbox

	cacheMu   sync.RWMutex
	tools     mcpschema.ListToolsResult
	resources mcpschema.ListResourcesResult
	templates mcpschema.ListResourceTemplatesResult
	prompts   mcpschema.ListPromptsResult
}

// New wraps an already-instantiated Sandbox for ref. The returned Plugin
// starts Loading; call Activate to run the initial cache population.
func New(ref pluginref.PluginRef, prov verify.Provenance, dgst digest.Digest, sb *sandbox.Sandbox) *Plugin {
	return &Plugin{Ref: ref, Provenance: prov, Digest: dgst, sb: sb, status: Loading()}
}

// Status returns the Plugin's current lifecycle state.
func (p *Plugin) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Plugin) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// MarkFailed transitions the Plugin to Failed with reason, e.g. on a
// Registry identifier collision (spec §4.5) or a guest ABI violation
// observed outside this package.
func (p *Plugin) MarkFailed(reason string) {
	p.setStatus(Failed(reason))
}

// Activate runs the four required listing calls once (spec §4.4: "On
// transition to Ready the Plugin invokes list_tools, list_resources,
// list_resource_templates, and list_prompts once each") and marks the
// Plugin Ready on success.
func (p *Plugin) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tools, err := callJSON[mcpschema.ListToolsResult](ctx, p.sb, "list_tools", struct{}{})
	if err != nil {
		p.status = Failed(err.Error())
		return err
	}
	resources, err := callJSON[mcpschema.ListResourcesResult](ctx, p.sb, "list_resources", struct{}{})
	if err != nil {
		p.status = Failed(err.Error())
		return err
	}
	templates, err := callJSON[mcpschema.ListResourceTemplatesResult](ctx, p.sb, "list_resource_templates", struct{}{})
	if err != nil {
		p.status = Failed(err.Error())
		return err
	}
	prompts, err := callJSON[mcpschema.ListPromptsResult](ctx, p.sb, "list_prompts", struct{}{})
	if err != nil {
		p.status = Failed(err.Error())
		return err
	}

	p.cacheMu.Lock()
	p.tools, p.resources, p.templates, p.prompts = tools, resources, templates, prompts
	p.cacheMu.Unlock()

	p.status = Ready()
	return nil
}

// CachedTools returns the last populated tool listing.
func (p *Plugin) CachedTools() mcpschema.ListToolsResult {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.tools
}

// CachedResources returns the last populated resource listing.
func (p *Plugin) CachedResources() mcpschema.ListResourcesResult {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.resources
}

// CachedTemplates returns the last populated resource template listing.
func (p *Plugin) CachedTemplates() mcpschema.ListResourceTemplatesResult {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.templates
}

// CachedPrompts returns the last populated prompt listing.
func (p *Plugin) CachedPrompts() mcpschema.ListPromptsResult {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.prompts
}

// CallTool forwards params unchanged to the guest's call_tool export
// (spec §4.4). The per-plugin mutex serializes this against every other
// guest-entry call on the same instance.
func (p *Plugin) CallTool(ctx context.Context, params mcpschema.CallToolParams) (mcpschema.CallToolResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, err := callJSON[mcpschema.CallToolResult](ctx, p.sb, "call_tool", params)
	p.failOnTimeout(err)
	return out, err
}

// ReadResource forwards params unchanged to the guest's read_resource
// export.
func (p *Plugin) ReadResource(ctx context.Context, params mcpschema.ReadResourceParams) (mcpschema.ReadResourceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, err := callJSON[mcpschema.ReadResourceResult](ctx, p.sb, "read_resource", params)
	p.failOnTimeout(err)
	return out, err
}

// GetPrompt forwards params unchanged to the guest's get_prompt export.
func (p *Plugin) GetPrompt(ctx context.Context, params mcpschema.GetPromptParams) (mcpschema.GetPromptResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, err := callJSON[mcpschema.GetPromptResult](ctx, p.sb, "get_prompt", params)
	p.failOnTimeout(err)
	return out, err
}

// Complete forwards params unchanged to the guest's complete export.
func (p *Plugin) Complete(ctx context.Context, params mcpschema.CompleteParams) (mcpschema.CompleteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, err := callJSON[mcpschema.CompleteResult](ctx, p.sb, "complete", params)
	p.failOnTimeout(err)
	return out, err
}

// failOnTimeout tears down a wedged sandbox after a CallTimeout or Cancelled
// (spec §4.3/§5/§7, scenario 6): wazero's WithCloseOnContextDone aborts the
// guest export when Call's deadline fires, but the Plugin must still be
// moved out of Ready so the next call doesn't re-enter the torn-down
// instance. Must be called with p.mu already held.
func (p *Plugin) failOnTimeout(err error) {
	var timeout *hmcperr.CallTimeout
	var cancelled *hmcperr.Cancelled
	if !errors.As(err, &timeout) && !errors.As(err, &cancelled) {
		return
	}
	if p.sb != nil {
		p.sb.Close(context.Background())
		p.sb = nil
	}
	p.status = Failed(err.Error())
}

// NotifyRootsListChanged forwards an incoming
// notifications/roots/list_changed to the guest's on_roots_list_changed
// export, which every loaded plugin exports; a guest may ignore it.
func (p *Plugin) NotifyRootsListChanged(ctx context.Context, params mcpschema.RootsListChangedParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := callJSON[struct{}](ctx, p.sb, "on_roots_list_changed", params); err != nil {
		// Best-effort fan-out: one plugin's malfunction must not break the
		// notification for the rest.
		p.status = Failed(err.Error())
	}
}

// RefreshTools re-runs list_tools and replaces the cached result. It takes
// the same per-plugin mutex as every other guest-entry call, so a refresh
// triggered from inside a call_tool's notify_tool_list_changed (spec
// scenario 5) must be dispatched asynchronously by the caller to avoid
// deadlocking on its own in-flight call; see Sandbox's NotifyTools hook
// wiring in the loader.
func (p *Plugin) RefreshTools(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tools, err := callJSON[mcpschema.ListToolsResult](ctx, p.sb, "list_tools", struct{}{})
	if err != nil {
		return err
	}
	p.cacheMu.Lock()
	p.tools = tools
	p.cacheMu.Unlock()
	return nil
}

// Close tears down the underlying sandbox. Safe to call once, typically
// when the Plugin is retired by a hot reload. A Plugin already Failed (e.g.
// rejected for a Registry identifier collision) keeps that status and
// reason; Close only reclaims its sandbox resources.
func (p *Plugin) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sb != nil {
		p.sb.Close(ctx)
		p.sb = nil
	}
	if p.status.State != StateFailed {
		p.status = Retired()
	}
}

func callJSON[T any](ctx context.Context, sb *sandbox.Sandbox, export string, params any) (T, error) {
	var zero T
	if sb == nil {
		return zero, fmt.Errorf("calling %s: plugin has no live sandbox", export)
	}
	reqJSON, err := json.Marshal(params)
	if err != nil {
		return zero, &hmcperr.PluginAbiError{Detail: fmt.Sprintf("marshaling %s request: %v", export, err)}
	}
	respJSON, err := sb.Call(ctx, export, reqJSON)
	if err != nil {
		return zero, err
	}
	var out T
	if len(respJSON) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(respJSON, &out); err != nil {
		return zero, &hmcperr.PluginAbiError{Detail: fmt.Sprintf("unmarshaling %s response: %v", export, err)}
	}
	return out, nil
}
