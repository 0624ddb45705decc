// Package registry indexes the tools, resources, and prompts advertised by
// a set of Ready plugins (spec §4.5). Readers never block: the live index
// is an atomically-swapped snapshot, published in full on every reload.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
	"github.com/hyper-mcp/hyper-mcp/internal/plugin"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

// listPageSize bounds how many entries a single merge-paginated listing
// page returns per plugin before advancing the cursor, an implementation
// detail the spec leaves open (see DESIGN.md).
const listPageSize = 50

// templateEntry pairs a resource template with the plugin that owns it, so
// find_resource can fall back to pattern matching "in registration order"
// (spec §4.5) across the whole registry, not just within one plugin.
type templateEntry struct {
	tmpl   mcpschema.ResourceTemplate
	owner  *plugin.Plugin
	regexp *regexp.Regexp
}

// state is one immutable, fully-built snapshot of the registry.
type state struct {
	// plugins preserves config-declared order; it is the authoritative
	// iteration order for every merge-paginated listing.
	plugins []*plugin.Plugin
	refs    []pluginref.PluginRef

	toolOwner     map[string]*plugin.Plugin
	resourceOwner map[string]*plugin.Plugin
	promptOwner   map[string]*plugin.Plugin
	templates     []templateEntry
}

// Registry holds the current snapshot behind an atomic pointer; Load/reload
// builds a new snapshot and swaps it in, never mutating the old one.
type Registry struct {
	current atomic.Pointer[state]
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&state{
		toolOwner:     map[string]*plugin.Plugin{},
		resourceOwner: map[string]*plugin.Plugin{},
		promptOwner:   map[string]*plugin.Plugin{},
	})
	return r
}

// LoadFunc fetches, verifies, sandboxes and activates one plugin from its
// ref, returning a Ready (or Failed) Plugin.
type LoadFunc func(ctx context.Context, ref pluginref.PluginRef) (*plugin.Plugin, error)

// Reconcile diffs newRefs against the live snapshot by (name, url,
// config_hash) (spec §4.5's hot reload rule): unchanged refs keep their
// live Plugin, new refs are loaded via load, and refs no longer present are
// retired. The rebuilt snapshot is published atomically; readers holding
// the old pointer are unaffected mid-reload.
func (r *Registry) Reconcile(ctx context.Context, newRefs []pluginref.PluginRef, load LoadFunc) []error {
	old := r.current.Load()

	kept := make(map[string]*plugin.Plugin, len(old.refs))
	for i, ref := range old.refs {
		kept[reconcileKey(ref)] = old.plugins[i]
	}

	newState := &state{
		toolOwner:     map[string]*plugin.Plugin{},
		resourceOwner: map[string]*plugin.Plugin{},
		promptOwner:   map[string]*plugin.Plugin{},
	}

	var loadErrs []error
	stillPresent := make(map[string]bool, len(newRefs))

	for _, ref := range newRefs {
		key := reconcileKey(ref)
		stillPresent[key] = true

		p, ok := kept[key]
		if ok && p.Status().State == plugin.StateFailed {
			// spec §7: a previously-Failed plugin is re-attempted on the
			// next hot reload rather than kept wedged forever.
			ok = false
		}
		if !ok {
			loaded, err := load(ctx, ref)
			if err != nil {
				loadErrs = append(loadErrs, fmt.Errorf("plugin %q: %w", ref.Name, err))
				continue
			}
			p = loaded
		}

		if err := newState.insert(ctx, ref, p); err != nil {
			loadErrs = append(loadErrs, err)
			continue
		}
	}

	for key, p := range kept {
		if !stillPresent[key] {
			p.Close(ctx)
		}
	}

	r.current.Store(newState)
	return loadErrs
}

func reconcileKey(ref pluginref.PluginRef) string {
	return ref.Name + "\x00" + ref.URL + "\x00" + ref.ConfigHash()
}

// insert adds p's advertised identifiers to the state being built,
// enforcing spec §4.5's collision policy: the whole plugin is rejected
// (marked Failed) if any of its tool names, resource URIs, or prompt names
// are already claimed within this same generation.
func (s *state) insert(ctx context.Context, ref pluginref.PluginRef, p *plugin.Plugin) error {
	if p.Status().State != plugin.StateReady {
		s.plugins = append(s.plugins, p)
		s.refs = append(s.refs, ref)
		return nil
	}

	for _, t := range p.CachedTools().Tools {
		if _, claimed := s.toolOwner[t.Name]; claimed {
			return failCollision(ctx, p, "tool:"+t.Name)
		}
	}
	for _, rsc := range p.CachedResources().Resources {
		if _, claimed := s.resourceOwner[rsc.URI]; claimed {
			return failCollision(ctx, p, "resource:"+rsc.URI)
		}
	}
	for _, pr := range p.CachedPrompts().Prompts {
		if _, claimed := s.promptOwner[pr.Name]; claimed {
			return failCollision(ctx, p, "prompt:"+pr.Name)
		}
	}

	for _, t := range p.CachedTools().Tools {
		s.toolOwner[t.Name] = p
	}
	for _, rsc := range p.CachedResources().Resources {
		s.resourceOwner[rsc.URI] = p
	}
	for _, pr := range p.CachedPrompts().Prompts {
		s.promptOwner[pr.Name] = p
	}
	for _, tmpl := range p.CachedTemplates().ResourceTemplates {
		re, err := compileURITemplate(tmpl.URITemplate)
		if err != nil {
			continue
		}
		s.templates = append(s.templates, templateEntry{tmpl: tmpl, owner: p, regexp: re})
	}

	s.plugins = append(s.plugins, p)
	s.refs = append(s.refs, ref)
	return nil
}

func failCollision(ctx context.Context, p *plugin.Plugin, identifier string) error {
	reason := "collision: " + identifier
	p.MarkFailed(reason)
	p.Close(ctx)
	return &hmcperr.ConfigError{Detail: fmt.Sprintf("plugin %q rejected: %s", p.Ref.Name, reason)}
}

// compileURITemplate turns a minimal RFC 6570-style "{var}" template into a
// matching regexp, sufficient for the single-segment placeholders plugin
// resource templates use in practice.
func compileURITemplate(tmpl string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' {
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("malformed uri template %q", tmpl)
			}
			b.WriteString("[^/]+")
			i += end + 1
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(tmpl[i])))
		i++
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// FindTool implements spec §4.5's find_tool.
func (r *Registry) FindTool(name string) (*plugin.Plugin, error) {
	s := r.current.Load()
	p, ok := s.toolOwner[name]
	if !ok {
		return nil, &hmcperr.ToolNotFound{Name: name}
	}
	return p, nil
}

// FindResource implements spec §4.5's find_resource: exact match first,
// then the first matching template in registration order.
func (r *Registry) FindResource(uri string) (*plugin.Plugin, error) {
	s := r.current.Load()
	if p, ok := s.resourceOwner[uri]; ok {
		return p, nil
	}
	for _, te := range s.templates {
		if te.regexp.MatchString(uri) {
			return te.owner, nil
		}
	}
	return nil, &hmcperr.ResourceNotFound{URI: uri}
}

// FindPrompt implements spec §4.5's find_prompt.
func (r *Registry) FindPrompt(name string) (*plugin.Plugin, error) {
	s := r.current.Load()
	p, ok := s.promptOwner[name]
	if !ok {
		return nil, &hmcperr.PromptNotFound{Name: name}
	}
	return p, nil
}

// ListTools merge-paginates every Ready plugin's cached tool listing,
// preserving per-plugin order then config-declared plugin order
// (spec §4.6).
func (r *Registry) ListTools(cursor string) (mcpschema.ListToolsResult, error) {
	s := r.current.Load()
	idx, offset, err := parseCursor(cursor)
	if err != nil {
		return mcpschema.ListToolsResult{}, err
	}
	var out mcpschema.ListToolsResult
	for ; idx < len(s.plugins); idx++ {
		p := s.plugins[idx]
		if p.Status().State != plugin.StateReady {
			offset = 0
			continue
		}
		tools := p.CachedTools().Tools
		end := min(offset+listPageSize, len(tools))
		out.Tools = append(out.Tools, tools[offset:end]...)
		if end < len(tools) {
			out.NextCursor = fmt.Sprintf("%d:%d", idx, end)
			return out, nil
		}
		offset = 0
	}
	return out, nil
}

// ListResources merge-paginates every Ready plugin's cached resource
// listing.
func (r *Registry) ListResources(cursor string) (mcpschema.ListResourcesResult, error) {
	s := r.current.Load()
	idx, offset, err := parseCursor(cursor)
	if err != nil {
		return mcpschema.ListResourcesResult{}, err
	}
	var out mcpschema.ListResourcesResult
	for ; idx < len(s.plugins); idx++ {
		p := s.plugins[idx]
		if p.Status().State != plugin.StateReady {
			offset = 0
			continue
		}
		resources := p.CachedResources().Resources
		end := min(offset+listPageSize, len(resources))
		out.Resources = append(out.Resources, resources[offset:end]...)
		if end < len(resources) {
			out.NextCursor = fmt.Sprintf("%d:%d", idx, end)
			return out, nil
		}
		offset = 0
	}
	return out, nil
}

// ListResourceTemplates merge-paginates every Ready plugin's cached
// resource template listing.
func (r *Registry) ListResourceTemplates(cursor string) (mcpschema.ListResourceTemplatesResult, error) {
	s := r.current.Load()
	idx, offset, err := parseCursor(cursor)
	if err != nil {
		return mcpschema.ListResourceTemplatesResult{}, err
	}
	var out mcpschema.ListResourceTemplatesResult
	for ; idx < len(s.plugins); idx++ {
		p := s.plugins[idx]
		if p.Status().State != plugin.StateReady {
			offset = 0
			continue
		}
		templates := p.CachedTemplates().ResourceTemplates
		end := min(offset+listPageSize, len(templates))
		out.ResourceTemplates = append(out.ResourceTemplates, templates[offset:end]...)
		if end < len(templates) {
			out.NextCursor = fmt.Sprintf("%d:%d", idx, end)
			return out, nil
		}
		offset = 0
	}
	return out, nil
}

// ListPrompts merge-paginates every Ready plugin's cached prompt listing.
func (r *Registry) ListPrompts(cursor string) (mcpschema.ListPromptsResult, error) {
	s := r.current.Load()
	idx, offset, err := parseCursor(cursor)
	if err != nil {
		return mcpschema.ListPromptsResult{}, err
	}
	var out mcpschema.ListPromptsResult
	for ; idx < len(s.plugins); idx++ {
		p := s.plugins[idx]
		if p.Status().State != plugin.StateReady {
			offset = 0
			continue
		}
		prompts := p.CachedPrompts().Prompts
		end := min(offset+listPageSize, len(prompts))
		out.Prompts = append(out.Prompts, prompts[offset:end]...)
		if end < len(prompts) {
			out.NextCursor = fmt.Sprintf("%d:%d", idx, end)
			return out, nil
		}
		offset = 0
	}
	return out, nil
}

// Plugins returns every plugin in the live snapshot, in config-declared
// order, for fan-out operations like notifications/roots/list_changed.
func (r *Registry) Plugins() []*plugin.Plugin {
	s := r.current.Load()
	out := make([]*plugin.Plugin, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// parseCursor splits a "<plugin_index>:<inner_cursor>" cursor (spec §4.5).
// An empty cursor starts at the first plugin. The inner cursor is this
// registry's own entry index into that plugin's cached slice; it is not
// forwarded to the plugin.
func parseCursor(cursor string) (idx, offset int, err error) {
	if cursor == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	idx, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	if len(parts) == 2 && parts[1] != "" {
		offset, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
		}
	}
	return idx, offset, nil
}
