package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-mcp/hyper-mcp/internal/config"
)

func TestRootRegistersSubcommandsAndDebugFlag(t *testing.T) {
	cmd := Root(context.Background())

	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "version"}, names)

	flag := cmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootPersistentPreRunSetsContext(t *testing.T) {
	key := struct{ key string }{"k"}
	ctx := context.WithValue(context.Background(), key, "v")
	cmd := Root(ctx)
	cmd.SetArgs([]string{"version"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "dev")

	sub, _, err := cmd.Find([]string{"version"})
	require.NoError(t, err)
	assert.Equal(t, "v", sub.Context().Value(key))
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	cmd := versionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Equal(t, "dev\n", out.String())
}

func TestRunCommandHasExpectedFlags(t *testing.T) {
	cmd := runCommand()
	for _, name := range []string{
		"config-file", "transport", "bind-address",
		"insecure-skip-signature", "use-sigstore-tuf-data",
		"rekor-pub-keys", "fulcio-certs", "cert-issuer", "cert-email", "cert-url",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
}

func TestRunExitsConfigErrorOnMissingConfigFile(t *testing.T) {
	code := run(context.Background(), "/nonexistent/hyper-mcp.yaml", config.Overrides{})
	assert.Equal(t, exitConfigError, code)
}

func TestRunExitsConfigErrorOnInvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hyper-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins: []\n"), 0o644))
	code := run(context.Background(), path, config.Overrides{Transport: "bogus"})
	assert.Equal(t, exitConfigError, code)
}
