package fetch

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
)

func (f *Fetcher) fetchFile(ref pluginref.PluginRef) ([]byte, error) {
	u, err := url.Parse(ref.URL)
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNotFound, URL: ref.URL, Err: err}
	}

	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &hmcperr.FetchError{Kind: hmcperr.FetchNotFound, URL: ref.URL, Err: err}
	}

	if len(f.TrustRoots) > 0 {
		allowed := false
		for _, root := range f.TrustRoots {
			rootAbs, err := filepath.Abs(root)
			if err != nil {
				continue
			}
			if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, &hmcperr.FetchError{
				Kind: hmcperr.FetchNotFound,
				URL:  ref.URL,
				Err:  fmt.Errorf("path %q escapes configured trust roots", abs),
			}
		}
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		kind := hmcperr.FetchNetwork
		if os.IsNotExist(err) {
			kind = hmcperr.FetchNotFound
		}
		return nil, &hmcperr.FetchError{Kind: kind, URL: ref.URL, Err: err}
	}
	return b, nil
}
