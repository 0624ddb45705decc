// Package hmcperr defines the typed error taxonomy shared across the
// plugin runtime so callers can branch on failure kind with errors.As
// instead of matching on message text.
package hmcperr

import "fmt"

// FetchKind classifies a FetchError for retry policy decisions.
type FetchKind string

const (
	FetchNetwork  FetchKind = "network"
	FetchNotFound FetchKind = "not_found"
	FetchAuth     FetchKind = "auth"
)

// FetchError wraps a failure to retrieve plugin bytes from a Fetcher backend.
type FetchError struct {
	Kind FetchKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the fetch should be retried per spec ("at most 3
// times with exponential backoff (except auth, never retried)").
func (e *FetchError) Retryable() bool { return e.Kind != FetchAuth }

// VerificationKind classifies why a Verifier rejected a binary.
type VerificationKind string

const (
	VerifySignature      VerificationKind = "signature"
	VerifyIssuerMismatch VerificationKind = "issuer_mismatch"
	VerifyMissingEntry   VerificationKind = "missing_entry"
)

// VerificationFailed is returned by the Verifier and is never retried.
type VerificationFailed struct {
	Kind   VerificationKind
	Detail string
}

func (e *VerificationFailed) Error() string {
	return fmt.Sprintf("verification failed (%s): %s", e.Kind, e.Detail)
}

// SandboxInitError reports that a WebAssembly module failed to instantiate.
type SandboxInitError struct {
	Plugin string
	Err    error
}

func (e *SandboxInitError) Error() string {
	return fmt.Sprintf("sandbox init for plugin %q: %v", e.Plugin, e.Err)
}

func (e *SandboxInitError) Unwrap() error { return e.Err }

// PluginAbiError reports a guest ABI violation: malformed JSON, an
// out-of-range status code, a trap, or a missing export. The sandbox also
// returns it, carrying the guest's error_set message, when an export
// returns -1. Plugin.Activate and Plugin.NotifyRootsListChanged mark the
// Plugin Failed on any error; call_tool, read_resource, get_prompt,
// complete and the list_tools refresh leave the Plugin's status and
// sandbox unchanged on this error, so the instance is entered again.
type PluginAbiError struct {
	Plugin string
	Detail string
}

func (e *PluginAbiError) Error() string {
	return fmt.Sprintf("plugin %q abi violation: %s", e.Plugin, e.Detail)
}

// CallTimeout reports that a guest call exceeded its configured deadline.
type CallTimeout struct {
	Plugin    string
	TimeoutMS int
}

func (e *CallTimeout) Error() string {
	return fmt.Sprintf("call exceeded %d ms", e.TimeoutMS)
}

// Cancelled reports that the caller disconnected mid-call.
type Cancelled struct {
	Plugin string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("call to plugin %q cancelled", e.Plugin)
}

// ToolNotFound, ResourceNotFound, PromptNotFound are MCP-level lookup
// failures; they are returned to the client and never affect plugin state.
type ToolNotFound struct{ Name string }

func (e *ToolNotFound) Error() string { return fmt.Sprintf("tool %q not found", e.Name) }

type ResourceNotFound struct{ URI string }

func (e *ResourceNotFound) Error() string { return fmt.Sprintf("resource %q not found", e.URI) }

type PromptNotFound struct{ Name string }

func (e *PromptNotFound) Error() string { return fmt.Sprintf("prompt %q not found", e.Name) }

// HostCapDenied reports that a guest attempted I/O outside its granted
// capability set. It is surfaced to the guest as the host function's error
// return and logged, but it never aborts the host process.
type HostCapDenied struct {
	Plugin    string
	Operation string
	Detail    string
}

func (e *HostCapDenied) Error() string {
	return fmt.Sprintf("plugin %q denied %s: %s", e.Plugin, e.Operation, e.Detail)
}

// ConfigError reports invalid or inconsistent configuration. Fatal at
// startup; scoped to a single plugin at reload time.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Detail) }
