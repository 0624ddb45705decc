// Package sandbox wraps a single WebAssembly plugin instance using wazero,
// the pure-Go WebAssembly runtime. It owns the guest's linear memory
// lifecycle, the host function bindings a guest may call, and the
// JSON-in/JSON-out export calling convention described by the plugin ABI
// (spec §4.3).
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/hyper-mcp/hyper-mcp/internal/capability"
	"github.com/hyper-mcp/hyper-mcp/internal/hlog"
	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
)

// guestExports are the nine exports the plugin ABI requires (spec §4.3).
var guestExports = []string{
	"list_tools", "call_tool",
	"list_resources", "list_resource_templates", "read_resource",
	"list_prompts", "get_prompt",
	"complete",
	"on_roots_list_changed",
}

// LogSink receives guest log(level, message) calls.
type LogSink func(level, message string)

// ConfigLookup resolves a plugin's runtime_config map for config_get.
type ConfigLookup func(key string) (string, bool)

// HTTPDo performs a guest-originated http_request, already checked against
// the capability set by the caller registering it.
type HTTPDo func(ctx context.Context, reqJSON []byte) (respJSON []byte, err error)

// NotifyToolListChanged is invoked when a guest calls
// notify_tool_list_changed(); the loader wires it to the Dispatcher.
type NotifyToolListChanged func()

// Hooks bundles the callbacks a Sandbox's host functions delegate to.
type Hooks struct {
	Log         LogSink
	ConfigGet   ConfigLookup
	HTTPRequest HTTPDo
	NotifyTools NotifyToolListChanged
}

// Sandbox owns one instantiated WebAssembly module and its guest memory.
// It is not safe for concurrent export calls; Plugin serializes access with
// a mutex (spec §4.4).
type Sandbox struct {
	pluginName string
	caps       capability.Set
	hooks      Hooks

	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module

	allocate   api.Function
	deallocate api.Function

	mu        sync.Mutex
	outputBuf []byte
	errorBuf  string
}

// New compiles and instantiates wasmBytes under the given capability set,
// wiring the host functions the plugin ABI requires. The returned Sandbox
// owns a dedicated wazero runtime; it is never reused across reloads
// (spec §4.3: "on timeout the sandbox MUST tear down the instance").
func New(ctx context.Context, pluginName string, wasmBytes []byte, caps capability.Set, hooks Hooks) (*Sandbox, error) {
	cfg := wazero.NewRuntimeConfig()
	if caps.MemoryMaxBytes > 0 {
		pages := (caps.MemoryMaxBytes + wazeroPageSize - 1) / wazeroPageSize
		cfg = cfg.WithMemoryLimitPages(uint32(pages))
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, &hmcperr.SandboxInitError{Plugin: pluginName, Err: fmt.Errorf("instantiating wasi: %w", err)}
	}

	sb := &Sandbox{pluginName: pluginName, caps: caps, hooks: hooks, runtime: runtime}

	if err := sb.registerHostModule(ctx); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, &hmcperr.SandboxInitError{Plugin: pluginName, Err: fmt.Errorf("compiling module: %w", err)}
	}
	sb.compiled = compiled

	modCfg := wazero.NewModuleConfig().
		WithName(pluginName).
		WithStartFunctions("_initialize").
		WithCloseOnContextDone(true)

	for k, v := range caps.Env {
		modCfg = modCfg.WithEnv(k, v)
	}

	fsConfig := wazero.NewFSConfig()
	for _, m := range caps.AllowedPaths {
		if m.Mode == capability.ReadWrite {
			fsConfig = fsConfig.WithDirMount(m.HostPath, m.GuestPath)
		} else {
			fsConfig = fsConfig.WithReadOnlyDirMount(m.HostPath, m.GuestPath)
		}
	}
	modCfg = modCfg.WithFSConfig(fsConfig)

	module, err := runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		compiled.Close(ctx)
		runtime.Close(ctx)
		return nil, &hmcperr.SandboxInitError{Plugin: pluginName, Err: fmt.Errorf("instantiating module: %w", err)}
	}
	sb.module = module

	sb.allocate = module.ExportedFunction("allocate")
	sb.deallocate = module.ExportedFunction("deallocate")
	if sb.allocate == nil || sb.deallocate == nil {
		sb.Close(ctx)
		return nil, &hmcperr.PluginAbiError{Plugin: pluginName, Detail: "module does not export allocate/deallocate"}
	}
	for _, name := range guestExports {
		if module.ExportedFunction(name) == nil {
			sb.Close(ctx)
			return nil, &hmcperr.PluginAbiError{Plugin: pluginName, Detail: fmt.Sprintf("module does not export %q", name)}
		}
	}

	return sb, nil
}

const wazeroPageSize = 64 * 1024

// Close tears down the runtime, releasing all guest memory. A Sandbox is
// single-use: after Close (explicit or via a timed-out Call), a fresh
// instance must be created for the Plugin to recover.
func (s *Sandbox) Close(ctx context.Context) {
	if s.compiled != nil {
		_ = s.compiled.Close(ctx)
	}
	if s.runtime != nil {
		_ = s.runtime.Close(ctx)
	}
}

// Call invokes one of the plugin ABI's guest exports with a JSON request,
// enforcing the configured timeout. On timeout or cancellation the caller
// MUST discard this Sandbox (spec §4.3); Call itself does not retry.
func (s *Sandbox) Call(ctx context.Context, export string, requestJSON []byte) ([]byte, error) {
	timeout := time.Duration(s.caps.Timeout()) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fn := s.module.ExportedFunction(export)
	if fn == nil {
		return nil, &hmcperr.PluginAbiError{Plugin: s.pluginName, Detail: fmt.Sprintf("unknown export %q", export)}
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := s.callSync(callCtx, fn, requestJSON)
		done <- result{out, err}
	}()

	select {
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, &hmcperr.CallTimeout{Plugin: s.pluginName, TimeoutMS: s.caps.Timeout()}
		}
		return nil, &hmcperr.Cancelled{Plugin: s.pluginName}
	case r := <-done:
		return r.out, r.err
	}
}

func (s *Sandbox) callSync(ctx context.Context, fn api.Function, requestJSON []byte) ([]byte, error) {
	ptr, err := s.writeGuestBytes(ctx, requestJSON)
	if err != nil {
		return nil, err
	}
	defer s.freeGuestBytes(ctx, ptr, uint32(len(requestJSON)))

	s.mu.Lock()
	s.outputBuf = nil
	s.errorBuf = ""
	s.mu.Unlock()

	results, err := fn.Call(ctx, uint64(ptr), uint64(len(requestJSON)))
	if err != nil {
		return nil, &hmcperr.PluginAbiError{Plugin: s.pluginName, Detail: fmt.Sprintf("export trapped: %v", err)}
	}
	if len(results) != 1 {
		return nil, &hmcperr.PluginAbiError{Plugin: s.pluginName, Detail: "export returned no status code"}
	}
	status := int32(results[0])

	s.mu.Lock()
	out, errMsg := s.outputBuf, s.errorBuf
	s.mu.Unlock()

	switch status {
	case 0:
		return out, nil
	case -1:
		return nil, &hmcperr.PluginAbiError{Plugin: s.pluginName, Detail: errMsg}
	default:
		return nil, &hmcperr.PluginAbiError{
			Plugin: s.pluginName,
			Detail: fmt.Sprintf("export returned protocol-violating status %d", status),
		}
	}
}

func (s *Sandbox) writeGuestBytes(ctx context.Context, data []byte) (uint32, error) {
	res, err := s.allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(res) != 1 {
		return 0, &hmcperr.PluginAbiError{Plugin: s.pluginName, Detail: "allocate failed"}
	}
	ptr := uint32(res[0])
	if len(data) > 0 && !s.module.Memory().Write(ptr, data) {
		return 0, &hmcperr.PluginAbiError{Plugin: s.pluginName, Detail: "writing guest memory out of bounds"}
	}
	return ptr, nil
}

func (s *Sandbox) freeGuestBytes(ctx context.Context, ptr, length uint32) {
	_, _ = s.deallocate.Call(ctx, uint64(ptr), uint64(length))
}

func (s *Sandbox) readGuestBytes(ptr, length uint32) ([]byte, error) {
	b, ok := s.module.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("reading guest memory out of bounds (ptr=%d len=%d)", ptr, length)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// registerHostModule binds the closed set of host functions the plugin ABI
// requires (spec §4.3) under the "env" import namespace.
func (s *Sandbox) registerHostModule(ctx context.Context) error {
	builder := s.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(s.hostOutput).
		Export("output")
	builder.NewFunctionBuilder().
		WithFunc(s.hostErrorSet).
		Export("error_set")
	builder.NewFunctionBuilder().
		WithFunc(s.hostLog).
		Export("log")
	builder.NewFunctionBuilder().
		WithFunc(s.hostConfigGet).
		Export("config_get")
	builder.NewFunctionBuilder().
		WithFunc(s.hostHTTPRequest).
		Export("http_request")
	builder.NewFunctionBuilder().
		WithFunc(s.hostNotifyToolListChanged).
		Export("notify_tool_list_changed")

	if _, err := builder.Instantiate(ctx); err != nil {
		return &hmcperr.SandboxInitError{Plugin: s.pluginName, Err: fmt.Errorf("registering host module: %w", err)}
	}
	return nil
}

// hostOutput is called by the guest before returning 0 from an export, to
// hand the host its JSON result (spec §4.3's "output" callback).
func (s *Sandbox) hostOutput(ctx context.Context, mod api.Module, ptr, length uint32) {
	b, err := s.readGuestBytes(ptr, length)
	if err != nil {
		hlog.Guest(s.pluginName, "error", err.Error())
		return
	}
	s.mu.Lock()
	s.outputBuf = b
	s.mu.Unlock()
}

// hostErrorSet is called by the guest before returning -1 from an export
// (spec §4.3's "error_set" callback).
func (s *Sandbox) hostErrorSet(ctx context.Context, mod api.Module, ptr, length uint32) {
	b, err := s.readGuestBytes(ptr, length)
	if err != nil {
		hlog.Guest(s.pluginName, "error", err.Error())
		return
	}
	s.mu.Lock()
	s.errorBuf = string(b)
	s.mu.Unlock()
}

func (s *Sandbox) hostLog(ctx context.Context, mod api.Module, levelPtr, levelLen, msgPtr, msgLen uint32) {
	level, err := s.readGuestBytes(levelPtr, levelLen)
	if err != nil {
		return
	}
	msg, err := s.readGuestBytes(msgPtr, msgLen)
	if err != nil {
		return
	}
	if s.hooks.Log != nil {
		s.hooks.Log(string(level), string(msg))
	} else {
		hlog.Guest(s.pluginName, string(level), string(msg))
	}
}

// hostConfigGet returns a packed (ptr<<32 | len) result, 0 meaning "not
// found", matching the convention wazero host functions use to return
// variable-length data by allocating it in guest memory first.
func (s *Sandbox) hostConfigGet(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
	key, err := s.readGuestBytes(keyPtr, keyLen)
	if err != nil || s.hooks.ConfigGet == nil {
		return 0
	}
	val, ok := s.hooks.ConfigGet(string(key))
	if !ok {
		return 0
	}
	return s.packIntoGuest(ctx, []byte(val))
}

func (s *Sandbox) hostHTTPRequest(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
	req, err := s.readGuestBytes(reqPtr, reqLen)
	if err != nil {
		return 0
	}
	if s.hooks.HTTPRequest == nil {
		return s.packIntoGuest(ctx, capDeniedJSON(s.pluginName, "http_request", "no host function wired"))
	}
	resp, err := s.hooks.HTTPRequest(ctx, req)
	if err != nil {
		return s.packIntoGuest(ctx, capDeniedJSON(s.pluginName, "http_request", err.Error()))
	}
	return s.packIntoGuest(ctx, resp)
}

func (s *Sandbox) hostNotifyToolListChanged(ctx context.Context, mod api.Module) {
	if s.hooks.NotifyTools != nil {
		s.hooks.NotifyTools()
	}
}

// packIntoGuest allocates len(data) bytes in guest memory via the guest's
// own allocate export, writes data, and returns a packed ptr<<32|len word.
// The guest is responsible for freeing it via deallocate once read.
func (s *Sandbox) packIntoGuest(ctx context.Context, data []byte) uint64 {
	ptr, err := s.writeGuestBytes(ctx, data)
	if err != nil {
		return 0
	}
	return uint64(ptr)<<32 | uint64(len(data))
}

func capDeniedJSON(plugin, op, detail string) []byte {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: (&hmcperr.HostCapDenied{Plugin: plugin, Operation: op, Detail: detail}).Error()})
	return b
}
