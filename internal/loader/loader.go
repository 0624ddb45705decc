// Package loader implements the Fetcher → Verifier → Sandbox → Plugin
// pipeline (spec §4) that turns one PluginRef into a cache-populated,
// Ready Plugin, or a FetchError/VerificationFailed/SandboxInitError that
// the caller surfaces without retrying beyond the Fetcher's own policy.
package loader

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"

	"github.com/hyper-mcp/hyper-mcp/internal/dispatcher"
	"github.com/hyper-mcp/hyper-mcp/internal/fetch"
	"github.com/hyper-mcp/hyper-mcp/internal/hlog"
	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/plugin"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
	"github.com/hyper-mcp/hyper-mcp/internal/retry"
	"github.com/hyper-mcp/hyper-mcp/internal/sandbox"
	"github.com/hyper-mcp/hyper-mcp/internal/verify"
)

// Loader wires one Fetcher, one verification Policy, and the Dispatcher
// plugins should notify on notify_tool_list_changed into a single
// registry.LoadFunc.
type Loader struct {
	Fetcher      *fetch.Fetcher
	Auths        fetch.AuthTable
	VerifyPolicy verify.Policy
	Dispatcher   *dispatcher.Dispatcher

	// FetchAttempts bounds retries on a retryable FetchError (spec §7: "at
	// most 3 attempts with exponential backoff").
	FetchAttempts int
	FetchBackoff  time.Duration
}

// Load runs the full pipeline for ref and returns a Ready Plugin, or an
// error without ever returning a partially-initialized one.
func (l *Loader) Load(ctx context.Context, ref pluginref.PluginRef) (*plugin.Plugin, error) {
	scheme, err := ref.Scheme()
	if err != nil {
		return nil, err
	}

	payload, err := l.fetchWithRetry(ctx, ref)
	if err != nil {
		return nil, err
	}

	binary := verify.PluginBinary{Bytes: payload, Digest: digest.FromBytes(payload)}
	hlog.Info("fetched plugin binary", "plugin", ref.Name, "digest", binary.Digest.String(), "bytes", len(payload))

	prov, err := l.verify(ctx, ref, scheme, binary.Bytes)
	if err != nil {
		return nil, err
	}
	binary.Provenance = prov

	// Plugin must exist before the sandbox's host functions can reference
	// it (notify_tool_list_changed dispatches against the live Plugin, not
	// the ref), so the variable is declared first and the closure captures
	// it by reference; it is only invoked after New/Activate complete.
	var p *plugin.Plugin

	hooks := sandbox.Hooks{
		ConfigGet:   configLookupFor(ref),
		HTTPRequest: httpRequestFor(ref.Name, ref.Capabilities),
		NotifyTools: func() {
			// Dispatched on its own goroutine: this callback fires while
			// the guest export that triggered it still holds the Plugin's
			// mutex (e.g. inside call_tool), and RefreshTools takes that
			// same mutex. Running synchronously here would deadlock;
			// running async gives the "response, then notification"
			// ordering spec scenario 5 requires.
			go l.Dispatcher.HandleToolListChanged(context.Background(), p)
		},
	}

	sb, err := sandbox.New(ctx, ref.Name, binary.Bytes, ref.Capabilities, hooks)
	if err != nil {
		return nil, err
	}

	p = plugin.New(ref, binary.Provenance, binary.Digest, sb)
	if err := p.Activate(ctx); err != nil {
		sb.Close(ctx)
		return nil, err
	}
	return p, nil
}

func (l *Loader) fetchWithRetry(ctx context.Context, ref pluginref.PluginRef) ([]byte, error) {
	attempts := l.FetchAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := l.FetchBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var payload []byte
	err := retry.If(attempts, backoff, func() error {
		var ferr error
		payload, ferr = l.Fetcher.Fetch(ctx, ref, l.Auths)
		return ferr
	}, func(err error) bool {
		var fe *hmcperr.FetchError
		return errors.As(err, &fe) && fe.Retryable()
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (l *Loader) verify(ctx context.Context, ref pluginref.PluginRef, scheme pluginref.Scheme, payload []byte) (verify.Provenance, error) {
	if scheme != pluginref.SchemeOCI {
		return verify.Verify(ctx, nil, string(scheme), l.VerifyPolicy)
	}
	raw := strings.TrimPrefix(ref.URL, "oci://")
	imgRef, err := name.ParseReference(raw)
	if err != nil {
		return verify.Provenance{}, &hmcperr.FetchError{Kind: hmcperr.FetchNotFound, URL: ref.URL, Err: err}
	}
	_ = payload // the sigstore check verifies the remote manifest/layers directly, not these bytes
	return verify.Verify(ctx, imgRef, string(scheme), l.VerifyPolicy)
}

func configLookupFor(ref pluginref.PluginRef) func(key string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := ref.RuntimeConfig[key]
		return v, ok
	}
}
