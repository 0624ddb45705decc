package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hyper-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	return path
}

func TestLoadMinimalConfigDefaultsToStdio(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - name: demo
    url: oci://ghcr.io/acme/demo:latest
`)
	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, cfg.Transport)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "demo", cfg.Plugins[0].Name)
}

func TestLoadRejectsDuplicatePluginNames(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - name: demo
    url: oci://ghcr.io/acme/demo:latest
  - name: demo
    url: oci://ghcr.io/acme/other:latest
`)
	_, err := Load(path, Overrides{})
	assert.Error(t, err)
}

func TestLoadRejectsUnsupportedScheme(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - name: demo
    url: ftp://example.com/demo.wasm
`)
	_, err := Load(path, Overrides{})
	assert.Error(t, err)
}

func TestLoadRejectsMissingBindAddressForHTTPTransport(t *testing.T) {
	path := writeConfig(t, `plugins: []`)
	_, err := Load(path, Overrides{Transport: "streamable-http"})
	assert.Error(t, err)
}

func TestLoadAcceptsBindAddressForHTTPTransport(t *testing.T) {
	path := writeConfig(t, `plugins: []`)
	cfg, err := Load(path, Overrides{Transport: "streamable-http", BindAddress: ":8080"})
	require.NoError(t, err)
	assert.Equal(t, TransportStreamableHTTP, cfg.Transport)
	assert.Equal(t, ":8080", cfg.BindAddress)
}

func TestOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeConfig(t, `
plugins: []
verification:
  insecure_skip_signature: false
`)
	skip := true
	cfg, err := Load(path, Overrides{InsecureSkipSignature: &skip})
	require.NoError(t, err)
	assert.True(t, cfg.Verification.InsecureSkipSignature)
}

func TestEnvOverridesAppliedBeforeExplicitFlag(t *testing.T) {
	path := writeConfig(t, `plugins: []`)

	t.Setenv("HYPER_MCP_TRANSPORT", "sse")
	t.Setenv("HYPER_MCP_BIND_ADDRESS", ":9000")

	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, cfg.Transport)
	assert.Equal(t, ":9000", cfg.BindAddress)

	// An explicit flag override still wins over the environment.
	cfg, err = Load(path, Overrides{Transport: "stdio"})
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, cfg.Transport)
}

func TestRuntimeConfigTranslatesToCapabilitySet(t *testing.T) {
	path := writeConfig(t, `
plugins:
  - name: demo
    url: oci://ghcr.io/acme/demo:latest
    runtime_config:
      allowed_hosts:
        - "*.example.com"
      allowed_paths:
        - src: /host/data
          dst: /data
          mode: read-write
      env:
        FOO: bar
`)
	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)
	require.Len(t, cfg.Plugins, 1)

	caps := cfg.Plugins[0].Capabilities
	assert.Equal(t, []string{"*.example.com"}, caps.AllowedHosts)
	require.Len(t, caps.AllowedPaths, 1)
	assert.Equal(t, "/data", caps.AllowedPaths[0].GuestPath)
	assert.Equal(t, "/host/data", caps.AllowedPaths[0].HostPath)
	assert.EqualValues(t, "read-write", caps.AllowedPaths[0].Mode)
	assert.Equal(t, "bar", caps.Env["FOO"])
}

func TestSplitPEMBlocks(t *testing.T) {
	bundle := "-----BEGIN PUBLIC KEY-----\nAAA\n-----END PUBLIC KEY-----\n" +
		"-----BEGIN PUBLIC KEY-----\nBBB\n-----END PUBLIC KEY-----\n"
	blocks := splitPEMBlocks(bundle)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0], "AAA")
	assert.Contains(t, blocks[1], "BBB")
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{})
	assert.Error(t, err)
}
