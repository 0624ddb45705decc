package plugin

import (
	"context"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/mcpschema"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
	"github.com/hyper-mcp/hyper-mcp/internal/verify"
)

func TestNewCarriesProvenanceAndDigest(t *testing.T) {
	dgst := digest.FromBytes([]byte("wasm-bytes"))
	prov := verify.Provenance{Verified: true, Mode: verify.ModeSigstore}

	p := New(pluginref.PluginRef{Name: "demo"}, prov, dgst, nil)

	assert.Equal(t, prov, p.Provenance)
	assert.Equal(t, dgst, p.Digest)
	assert.Equal(t, StateLoading, p.Status().State)
}

func TestFailOnTimeoutMarksFailedAndClosesSandbox(t *testing.T) {
	p := New(pluginref.PluginRef{Name: "demo"}, verify.Provenance{}, "", nil)
	p.mu.Lock()
	p.failOnTimeout(&hmcperr.CallTimeout{Plugin: "demo", TimeoutMS: 30000})
	p.mu.Unlock()

	status := p.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Nil(t, p.sb)
}

func TestFailOnTimeoutIgnoresOtherErrors(t *testing.T) {
	p := New(pluginref.PluginRef{Name: "demo"}, verify.Provenance{}, "", nil)
	p.mu.Lock()
	p.failOnTimeout(&hmcperr.PluginAbiError{Plugin: "demo", Detail: "trapped"})
	p.mu.Unlock()

	require.Equal(t, StateLoading, p.Status().State)
}

func TestCloseOnReadyPluginRetires(t *testing.T) {
	p := NewForTesting(pluginref.PluginRef{Name: "demo"}, Ready(),
		mcpschema.ListToolsResult{}, mcpschema.ListResourcesResult{},
		mcpschema.ListResourceTemplatesResult{}, mcpschema.ListPromptsResult{})

	p.Close(context.Background())
	assert.Equal(t, StateRetired, p.Status().State)
}

func TestCloseOnFailedPluginPreservesReason(t *testing.T) {
	p := NewForTesting(pluginref.PluginRef{Name: "demo"}, Failed("collision: tool:echo"),
		mcpschema.ListToolsResult{}, mcpschema.ListResourcesResult{},
		mcpschema.ListResourceTemplatesResult{}, mcpschema.ListPromptsResult{})

	p.Close(context.Background())
	status := p.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "collision: tool:echo", status.Reason)
}

func TestCloseToleratesNilSandbox(t *testing.T) {
	p := NewForTesting(pluginref.PluginRef{Name: "demo"}, Ready(),
		mcpschema.ListToolsResult{}, mcpschema.ListResourcesResult{},
		mcpschema.ListResourceTemplatesResult{}, mcpschema.ListPromptsResult{})

	assert.NotPanics(t, func() { p.Close(context.Background()) })
}

func TestStatusStringFormatting(t *testing.T) {
	assert.Equal(t, "ready", Ready().String())
	assert.Equal(t, "failed(boom)", Failed("boom").String())
	assert.Equal(t, "retired", Retired().String())
	assert.Equal(t, "loading", Loading().String())
}

func TestCachedGettersReturnPopulatedListings(t *testing.T) {
	tools := mcpschema.ListToolsResult{Tools: []mcpschema.Tool{{Name: "echo"}}}
	resources := mcpschema.ListResourcesResult{Resources: []mcpschema.Resource{{URI: "file:///a"}}}
	prompts := mcpschema.ListPromptsResult{Prompts: []mcpschema.Prompt{{Name: "greet"}}}

	p := NewForTesting(pluginref.PluginRef{Name: "demo"}, Ready(),
		tools, resources, mcpschema.ListResourceTemplatesResult{}, prompts)

	assert.Equal(t, tools, p.CachedTools())
	assert.Equal(t, resources, p.CachedResources())
	assert.Equal(t, prompts, p.CachedPrompts())
}
