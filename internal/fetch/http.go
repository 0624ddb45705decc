package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

// maxFetchBytes bounds any single plugin download, mirroring the teacher's
// fixed 5MB cap in pkg/fetch.Untrusted, scaled up for real-world wasm
// binaries.
const maxFetchBytes = 64 * 1024 * 1024

func (f *Fetcher) fetchHTTP(ctx context.Context, ref pluginref.PluginRef, auths AuthTable) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNetwork, URL: ref.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.UserAgent)

	if auth, ok := lookupAuth(ref.URL, auths); ok {
		switch {
		case auth.Bearer != "":
			req.Header.Set("Authorization", "Bearer "+auth.Bearer)
		case auth.Username != "":
			req.SetBasicAuth(auth.Username, auth.Password)
		}
	}

	resp, err := f.httpClientFor().Do(req)
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNetwork, URL: ref.URL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &hmcperr.FetchError{
			Kind: hmcperr.FetchAuth, URL: ref.URL,
			Err: fmt.Errorf("http %s", resp.Status),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &hmcperr.FetchError{
			Kind: hmcperr.FetchNotFound, URL: ref.URL,
			Err: fmt.Errorf("http %s", resp.Status),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &hmcperr.FetchError{
			Kind: hmcperr.FetchNetwork, URL: ref.URL,
			Err: fmt.Errorf("http %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNetwork, URL: ref.URL, Err: err}
	}
	return body, nil
}

// lookupAuth matches the auth table by origin ("scheme://host[:port]"),
// the unit spec §6's auths{<url> -> ...} table is keyed by.
func lookupAuth(rawURL string, auths AuthTable) (pluginref.Auth, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return pluginref.Auth{}, false
	}
	origin := u.Scheme + "://" + u.Host
	a, ok := auths[origin]
	return a, ok
}
