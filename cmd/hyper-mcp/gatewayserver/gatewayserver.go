// Package gatewayserver adapts the SDK-independent internal/dispatcher and
// internal/mcpschema types to github.com/modelcontextprotocol/go-sdk/mcp's
// Server, the same library docker-mcp-gateway's pkg/gateway package builds
// its transport on (custom_transport.go, handlers.go, dynamic_mcps.go). This
// is the only package in the module that imports go-sdk/mcp directly.
package gatewayserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hyper-mcp/hyper-mcp/internal/dispatcher"
	"github.com/hyper-mcp/hyper-mcp/internal/hlog"
	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
)

// Server owns the live mcp.Server and keeps its tool/resource/resource
// template/prompt registrations in sync with the Dispatcher's registry
// snapshot (spec §4.5 hot reload, §4.6 wire verbs).
type Server struct {
	mcp *mcp.Server
	d   *dispatcher.Dispatcher

	mu        sync.Mutex
	toolNames map[string]bool
	resURIs   map[string]bool
	tmplURIs  map[string]bool
	promNames map[string]bool
}

// New builds a Server advertising name/version (spec §6's Implementation
// info) and wires the SDK's roots/list_changed handler to fan out through
// the Dispatcher (mirroring custom_transport.go's RootsListChangedHandler).
func New(name, version string, d *dispatcher.Dispatcher) *Server {
	s := &Server{
		d:         d,
		toolNames: map[string]bool{},
		resURIs:   map[string]bool{},
		tmplURIs:  map[string]bool{},
		promNames: map[string]bool{},
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, &mcp.ServerOptions{
		RootsListChangedHandler: func(ctx context.Context, _ *mcp.RootsListChangedRequest) {
			d.NotifyRootsListChanged(ctx, mcpschema.RootsListChangedParams{})
		},
		CompletionHandler: func(ctx context.Context, req *mcp.CompleteRequest) (*mcp.CompleteResult, error) {
			res, err := d.Complete(ctx, completeParamsFromMCP(req.Params))
			if err != nil {
				return nil, err
			}
			return completeResultToMCP(res), nil
		},
		HasTools:     true,
		HasResources: true,
		HasPrompts:   true,
	})
	return s
}

// MCPServer exposes the underlying *mcp.Server for Run and transport
// construction in cmd/hyper-mcp/commands.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Run starts the SDK server on transport and blocks until ctx is done or the
// transport closes, exactly as Gateway.RunWithTransport does in
// custom_transport.go.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcp.Run(ctx, transport)
}

// Sync rebuilds every tool/resource/resource-template/prompt registration on
// the SDK server from the Dispatcher's current listings, adding identifiers
// new since the last Sync and removing ones no longer present. Call once
// after the initial Registry.Reconcile and again from NotifyToolListChanged
// and after every subsequent reload.
func (s *Server) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tools, err := collectAll(func(cursor string) ([]mcpschema.Tool, string, error) {
		r, err := s.d.ListTools(ctx, cursor)
		return r.Tools, r.NextCursor, err
	})
	if err != nil {
		return fmt.Errorf("syncing tools: %w", err)
	}
	s.syncTools(tools)

	resources, err := collectAll(func(cursor string) ([]mcpschema.Resource, string, error) {
		r, err := s.d.ListResources(ctx, cursor)
		return r.Resources, r.NextCursor, err
	})
	if err != nil {
		return fmt.Errorf("syncing resources: %w", err)
	}
	s.syncResources(resources)

	templates, err := collectAll(func(cursor string) ([]mcpschema.ResourceTemplate, string, error) {
		r, err := s.d.ListResourceTemplates(ctx, cursor)
		return r.ResourceTemplates, r.NextCursor, err
	})
	if err != nil {
		return fmt.Errorf("syncing resource templates: %w", err)
	}
	s.syncTemplates(templates)

	prompts, err := collectAll(func(cursor string) ([]mcpschema.Prompt, string, error) {
		r, err := s.d.ListPrompts(ctx, cursor)
		return r.Prompts, r.NextCursor, err
	})
	if err != nil {
		return fmt.Errorf("syncing prompts: %w", err)
	}
	s.syncPrompts(prompts)

	return nil
}

// NotifyToolListChanged implements dispatcher.ToolListChangedNotifier: a
// plugin's notify_tool_list_changed propagated all the way here re-syncs
// every registration (not just tools), since a plugin that redeclares its
// tool list in response to a roots change often redeclares resources and
// prompts too.
func (s *Server) NotifyToolListChanged(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		hlog.Error("re-syncing gateway server after tools/list_changed", "err", err)
	}
}

func collectAll[T any](page func(cursor string) ([]T, string, error)) ([]T, error) {
	var out []T
	cursor := ""
	for {
		items, next, err := page(cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func (s *Server) syncTools(tools []mcpschema.Tool) {
	current := make(map[string]bool, len(tools))
	for _, t := range tools {
		current[t.Name] = true
		if s.toolNames[t.Name] {
			continue
		}
		s.mcp.AddTool(toolToMCP(t), s.toolHandler())
	}
	var stale []string
	for name := range s.toolNames {
		if !current[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveTools(stale...)
	}
	s.toolNames = current
}

func (s *Server) syncResources(resources []mcpschema.Resource) {
	current := make(map[string]bool, len(resources))
	for _, r := range resources {
		current[r.URI] = true
		if s.resURIs[r.URI] {
			continue
		}
		s.mcp.AddResource(resourceToMCP(r), s.resourceHandler())
	}
	var stale []string
	for uri := range s.resURIs {
		if !current[uri] {
			stale = append(stale, uri)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveResources(stale...)
	}
	s.resURIs = current
}

func (s *Server) syncTemplates(templates []mcpschema.ResourceTemplate) {
	current := make(map[string]bool, len(templates))
	for _, t := range templates {
		current[t.URITemplate] = true
		if s.tmplURIs[t.URITemplate] {
			continue
		}
		s.mcp.AddResourceTemplate(templateToMCP(t), s.resourceHandler())
	}
	var stale []string
	for uri := range s.tmplURIs {
		if !current[uri] {
			stale = append(stale, uri)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveResourceTemplates(stale...)
	}
	s.tmplURIs = current
}

func (s *Server) syncPrompts(prompts []mcpschema.Prompt) {
	current := make(map[string]bool, len(prompts))
	for _, p := range prompts {
		current[p.Name] = true
		if s.promNames[p.Name] {
			continue
		}
		s.mcp.AddPrompt(promptToMCP(p), s.promptHandler())
	}
	var stale []string
	for name := range s.promNames {
		if !current[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemovePrompts(stale...)
	}
	s.promNames = current
}

// toolHandler forwards a call unchanged to the Dispatcher, schema-agnostic
// exactly as docker-mcp-gateway's mcpToolHandler forwards CallToolParamsRaw
// without unmarshaling it (handlers.go).
func (s *Server) toolHandler() mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.d.CallTool(ctx, mcpschema.CallToolParams{
			Name:      req.Params.Name,
			Arguments: json.RawMessage(req.Params.Arguments),
		})
		if err != nil {
			return nil, err
		}
		return callResultToMCP(res), nil
	}
}

func (s *Server) resourceHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		res, err := s.d.ReadResource(ctx, mcpschema.ReadResourceParams{URI: req.Params.URI})
		if err != nil {
			return nil, err
		}
		return readResultToMCP(res), nil
	}
}

func (s *Server) promptHandler() mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		res, err := s.d.GetPrompt(ctx, mcpschema.GetPromptParams{
			Name:      req.Params.Name,
			Arguments: req.Params.Arguments,
		})
		if err != nil {
			return nil, err
		}
		return getPromptResultToMCP(res), nil
	}
}

func toolToMCP(t mcpschema.Tool) *mcp.Tool {
	mt := &mcp.Tool{Name: t.Name, Description: t.Description}
	if len(t.InputSchema) > 0 {
		var sch jsonschema.Schema
		if err := json.Unmarshal(t.InputSchema, &sch); err == nil {
			mt.InputSchema = &sch
		}
	}
	return mt
}

func resourceToMCP(r mcpschema.Resource) *mcp.Resource {
	return &mcp.Resource{
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MIMEType:    r.MimeType,
	}
}

func templateToMCP(t mcpschema.ResourceTemplate) *mcp.ResourceTemplate {
	return &mcp.ResourceTemplate{
		URITemplate: t.URITemplate,
		Name:        t.Name,
		Description: t.Description,
		MIMEType:    t.MimeType,
	}
}

func promptToMCP(p mcpschema.Prompt) *mcp.Prompt {
	mp := &mcp.Prompt{Name: p.Name, Description: p.Description}
	for _, a := range p.Arguments {
		mp.Arguments = append(mp.Arguments, &mcp.PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return mp
}

func contentToMCP(c mcpschema.Content) mcp.Content {
	switch c.Type {
	case "image", "audio":
		return &mcp.ImageContent{Data: []byte(c.Data), MIMEType: c.MimeType}
	default:
		return &mcp.TextContent{Text: c.Text}
	}
}

func callResultToMCP(r mcpschema.CallToolResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: r.IsError}
	for _, c := range r.Content {
		out.Content = append(out.Content, contentToMCP(c))
	}
	return out
}

func readResultToMCP(r mcpschema.ReadResourceResult) *mcp.ReadResourceResult {
	out := &mcp.ReadResourceResult{}
	for _, c := range r.Contents {
		if c.Blob != "" {
			out.Contents = append(out.Contents, &mcp.BlobResourceContents{
				URI:      c.URI,
				MIMEType: c.MimeType,
				Blob:     []byte(c.Blob),
			})
			continue
		}
		out.Contents = append(out.Contents, &mcp.TextResourceContents{
			URI:      c.URI,
			MIMEType: c.MimeType,
			Text:     c.Text,
		})
	}
	return out
}

func completeParamsFromMCP(p *mcp.CompleteParams) mcpschema.CompleteParams {
	out := mcpschema.CompleteParams{
		Argument: mcpschema.CompletionArgument{Name: p.Argument.Name, Value: p.Argument.Value},
	}
	switch ref := p.Ref.(type) {
	case *mcp.PromptReference:
		out.Ref = mcpschema.CompletionRef{Type: "ref/prompt", Name: ref.Name}
	case *mcp.ResourceTemplateReference:
		out.Ref = mcpschema.CompletionRef{Type: "ref/resource", URI: ref.URI}
	}
	return out
}

func completeResultToMCP(r mcpschema.CompleteResult) *mcp.CompleteResult {
	return &mcp.CompleteResult{
		Completion: mcp.CompletionResultDetails{
			Values:  r.Completion.Values,
			Total:   r.Completion.Total,
			HasMore: r.Completion.HasMore,
		},
	}
}

func getPromptResultToMCP(r mcpschema.GetPromptResult) *mcp.GetPromptResult {
	out := &mcp.GetPromptResult{Description: r.Description}
	for _, m := range r.Messages {
		out.Messages = append(out.Messages, &mcp.PromptMessage{
			Role:    mcp.Role(m.Role),
			Content: contentToMCP(m.Content),
		})
	}
	return out
}
