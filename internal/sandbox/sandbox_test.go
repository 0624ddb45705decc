package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapDeniedJSONEncodesHostCapDeniedMessage(t *testing.T) {
	b := capDeniedJSON("demo-plugin", "http_request", "host not allowed: evil.example.com")

	var payload struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(b, &payload))
	assert.Contains(t, payload.Error, "demo-plugin")
	assert.Contains(t, payload.Error, "http_request")
	assert.Contains(t, payload.Error, "evil.example.com")
}

func TestGuestExportsListsAllNineABIFunctions(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"list_tools", "call_tool",
		"list_resources", "list_resource_templates", "read_resource",
		"list_prompts", "get_prompt",
		"complete",
		"on_roots_list_changed",
	}, guestExports)
}
