// Package fetch resolves a PluginRef's URL to raw plugin bytes. One backend
// is registered per URL scheme (spec §4.1); clients for each backend are
// lazily initialized once per process and shared, matching the teacher's
// pkg/fetch.Untrusted helper and the "global state, one-time init" rule of
// spec §9.
package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

// AuthTable maps a URL origin ("scheme://host[:port]") to credentials, the
// runtime representation of the config file's top-level auths{} table.
type AuthTable map[string]pluginref.Auth

// Fetcher resolves a plugin URL to bytes. The http(s) backend sends
// UserAgent and bounds each request by Timeout; the oci and s3 backends use
// neither and are bounded only by the caller's context. The http and s3
// clients are built lazily, once per Fetcher.
type Fetcher struct {
	UserAgent string
	Timeout   time.Duration

	// TrustRoots restricts file:// fetches; empty means no restriction.
	TrustRoots []string

	httpOnce   sync.Once
	httpClient *http.Client

	s3Once sync.Once
	s3err  error
	s3cli  s3API

	ociKeychainOnce sync.Once
}

// New builds a Fetcher with the given user agent, total timeout, and
// file:// trust roots.
func New(userAgent string, timeout time.Duration, trustRoots []string) *Fetcher {
	if userAgent == "" {
		userAgent = "hyper-mcp/1.0"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{UserAgent: userAgent, Timeout: timeout, TrustRoots: trustRoots}
}

// Fetch resolves ref's URL to bytes via the backend matching its scheme.
func (f *Fetcher) Fetch(ctx context.Context, ref pluginref.PluginRef, auths AuthTable) ([]byte, error) {
	scheme, err := ref.Scheme()
	if err != nil {
		return nil, err
	}

	switch scheme {
	case pluginref.SchemeFile:
		return f.fetchFile(ref)
	case pluginref.SchemeHTTP, pluginref.SchemeHTTPS:
		return f.fetchHTTP(ctx, ref, auths)
	case pluginref.SchemeS3:
		return f.fetchS3(ctx, ref)
	case pluginref.SchemeOCI:
		return f.fetchOCI(ctx, ref)
	default:
		return nil, &unsupportedSchemeError{scheme: string(scheme)}
	}
}

type unsupportedSchemeError struct{ scheme string }

func (e *unsupportedSchemeError) Error() string { return "unsupported scheme: " + e.scheme }

func (f *Fetcher) httpClientFor() *http.Client {
	f.httpOnce.Do(func() {
		// net/http follows up to 10 redirects by default before returning
		// an error, matching spec §4.1's "follow redirects up to 10".
		f.httpClient = &http.Client{Timeout: f.Timeout}
	})
	return f.httpClient
}
