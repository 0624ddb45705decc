package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

func TestFetchHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hyper-mcp-test", r.Header.Get("User-Agent"))
		w.Write([]byte("plugin-bytes"))
	}))
	defer srv.Close()

	f := New("hyper-mcp-test", 0, nil)
	ref := pluginref.PluginRef{Name: "demo", URL: srv.URL}

	b, err := f.Fetch(context.Background(), ref, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("plugin-bytes"), b)
}

func TestFetchHTTPUnauthorizedMapsToAuthKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := New("", 0, nil)
	ref := pluginref.PluginRef{Name: "demo", URL: srv.URL}

	_, err := f.Fetch(context.Background(), ref, nil)
	require.Error(t, err)

	var fe *hmcperr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, hmcperr.FetchAuth, fe.Kind)
	assert.False(t, fe.Retryable())
}

func TestFetchHTTPNotFoundMapsToNotFoundKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New("", 0, nil)
	ref := pluginref.PluginRef{Name: "demo", URL: srv.URL}

	_, err := f.Fetch(context.Background(), ref, nil)
	require.Error(t, err)

	var fe *hmcperr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, hmcperr.FetchNotFound, fe.Kind)
	assert.True(t, fe.Retryable())
}

func TestFetchHTTPServerErrorMapsToNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New("", 0, nil)
	ref := pluginref.PluginRef{Name: "demo", URL: srv.URL}

	_, err := f.Fetch(context.Background(), ref, nil)
	require.Error(t, err)

	var fe *hmcperr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, hmcperr.FetchNetwork, fe.Kind)
	assert.True(t, fe.Retryable())
}

func TestFetchHTTPBearerAuthInjected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New("", 0, nil)
	ref := pluginref.PluginRef{Name: "demo", URL: srv.URL}
	auths := AuthTable{}

	u, err := urlOrigin(srv.URL)
	require.NoError(t, err)
	auths[u] = pluginref.Auth{Bearer: "secret-token"}

	b, err := f.Fetch(context.Background(), ref, auths)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), b)
}

func TestFetchHTTPBasicAuthInjected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "hunter2", pass)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New("", 0, nil)
	ref := pluginref.PluginRef{Name: "demo", URL: srv.URL}
	auths := AuthTable{}

	u, err := urlOrigin(srv.URL)
	require.NoError(t, err)
	auths[u] = pluginref.Auth{Username: "alice", Password: "hunter2"}

	_, err = f.Fetch(context.Background(), ref, auths)
	require.NoError(t, err)
}

func urlOrigin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}
