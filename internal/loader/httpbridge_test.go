package loader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-mcp/hyper-mcp/internal/capability"
	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
)

func TestHTTPRequestForAllowsConfiguredHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	u, err := parsedHost(srv.URL)
	require.NoError(t, err)

	do := httpRequestFor("demo", capability.Set{AllowedHosts: []string{u}})
	reqJSON, err := json.Marshal(guestHTTPRequest{Method: "GET", URL: srv.URL})
	require.NoError(t, err)

	respJSON, err := do(context.Background(), reqJSON)
	require.NoError(t, err)

	var resp guestHTTPResponse
	require.NoError(t, json.Unmarshal(respJSON, &resp))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "hello", string(resp.Body))
}

func TestHTTPRequestForDeniesUnlistedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should not be reached"))
	}))
	defer srv.Close()

	do := httpRequestFor("demo", capability.Set{})
	reqJSON, err := json.Marshal(guestHTTPRequest{Method: "GET", URL: srv.URL})
	require.NoError(t, err)

	_, err = do(context.Background(), reqJSON)
	require.Error(t, err)

	var hcd *hmcperr.HostCapDenied
	require.ErrorAs(t, err, &hcd)
	assert.Equal(t, "demo", hcd.Plugin)
	assert.Equal(t, "http_request", hcd.Operation)
}

func TestHTTPRequestForRejectsMalformedPayload(t *testing.T) {
	do := httpRequestFor("demo", capability.Set{})
	_, err := do(context.Background(), []byte("not json"))
	require.Error(t, err)

	var abi *hmcperr.PluginAbiError
	assert.ErrorAs(t, err, &abi)
}

func parsedHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}
