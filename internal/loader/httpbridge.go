package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hyper-mcp/hyper-mcp/internal/capability"
	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
)

// guestHTTPRequest is the JSON shape a guest's http_request host function
// call carries (spec §4.3).
type guestHTTPRequest struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

type guestHTTPResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

const maxGuestHTTPResponseBytes = 8 * 1024 * 1024

// httpRequestFor builds the sandbox.HTTPDo hook for one plugin: it checks
// the request's host against the plugin's allowed_hosts before issuing it
// (spec §4.3: "MUST reject disallowed hosts"), and re-checks on every
// redirect hop rather than trusting the initial host (spec: "MUST NOT
// follow redirects across host boundaries without re-checking").
func httpRequestFor(pluginName string, caps capability.Set) func(ctx context.Context, reqJSON []byte) ([]byte, error) {
	return func(ctx context.Context, reqJSON []byte) ([]byte, error) {
		var req guestHTTPRequest
		if err := json.Unmarshal(reqJSON, &req); err != nil {
			return nil, &hmcperr.PluginAbiError{Plugin: pluginName, Detail: "malformed http_request payload"}
		}

		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, &hmcperr.HostCapDenied{Plugin: pluginName, Operation: "http_request", Detail: "invalid url"}
		}
		if !caps.HostAllowed(u.Hostname()) {
			return nil, &hmcperr.HostCapDenied{Plugin: pluginName, Operation: "http_request", Detail: "host not in allowed_hosts: " + u.Hostname()}
		}

		client := &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(r *http.Request, via []*http.Request) error {
				if !caps.HostAllowed(r.URL.Hostname()) {
					return &hmcperr.HostCapDenied{Plugin: pluginName, Operation: "http_request", Detail: "redirect crossed to disallowed host: " + r.URL.Hostname()}
				}
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
		if err != nil {
			return nil, &hmcperr.PluginAbiError{Plugin: pluginName, Detail: "building guest http request: " + err.Error()}
		}
		for k, vs := range req.Headers {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, &hmcperr.HostCapDenied{Plugin: pluginName, Operation: "http_request", Detail: err.Error()}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxGuestHTTPResponseBytes))
		if err != nil {
			return nil, &hmcperr.HostCapDenied{Plugin: pluginName, Operation: "http_request", Detail: "reading response: " + err.Error()}
		}

		out, err := json.Marshal(guestHTTPResponse{Status: resp.StatusCode, Headers: resp.Header, Body: body})
		if err != nil {
			return nil, &hmcperr.PluginAbiError{Plugin: pluginName, Detail: "marshaling guest http response"}
		}
		return out, nil
	}
}
