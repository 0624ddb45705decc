// Package config loads the runtime configuration file (spec §6) and
// applies the environment-variable and command-line-flag overrides layered
// on top of it. Precedence is file < environment < flag.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyper-mcp/hyper-mcp/internal/capability"
	"github.com/hyper-mcp/hyper-mcp/internal/hmcperr"
	"github.com/hyper-mcp/hyper-mcp/internal/pluginref"
	"github.com/hyper-mcp/hyper-mcp/internal/verify"
)

// Transport is the wire transport the gateway server listens on.
type Transport string

const (
	TransportStdio         Transport = "stdio"
	TransportSSE           Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// fileRuntimeConfig is {name,url}{runtime_config{...}} as it appears in the
// YAML file; it is translated to capability.Set + map[string]string on
// load, since those internal types carry no YAML tags of their own
// (pluginref.PluginRef deliberately excludes the wire encoding).
type fileRuntimeConfig struct {
	AllowedHosts []string             `yaml:"allowed_hosts"`
	AllowedPaths []fileAllowedPath    `yaml:"allowed_paths"`
	Env          map[string]string    `yaml:"env"`
}

type fileAllowedPath struct {
	Src  string `yaml:"src"`
	Dst  string `yaml:"dst"`
	Mode string `yaml:"mode"`
}

type filePlugin struct {
	Name          string             `yaml:"name"`
	URL           string             `yaml:"url"`
	RuntimeConfig *fileRuntimeConfig `yaml:"runtime_config"`
	Auth          *pluginref.Auth    `yaml:"auth"`
	Config        map[string]string  `yaml:"config"`
	MemoryMaxBytes uint64            `yaml:"memory_max_bytes"`
	TimeoutMS     int                `yaml:"timeout_ms"`
}

type fileVerification struct {
	InsecureSkipSignature bool   `yaml:"insecure_skip_signature"`
	UseSigstoreTUFData    bool   `yaml:"use_sigstore_tuf_data"`
	RekorPubKeys          string `yaml:"rekor_pub_keys"`
	FulcioCerts           string `yaml:"fulcio_certs"`
	CertIssuer            string `yaml:"cert_issuer"`
	CertEmail             string `yaml:"cert_email"`
	CertURL               string `yaml:"cert_url"`
}

// fileConfig is the top-level shape of the YAML configuration file
// (spec §6).
type fileConfig struct {
	Plugins      []filePlugin             `yaml:"plugins"`
	Verification fileVerification         `yaml:"verification"`
	Auths        map[string]pluginref.Auth `yaml:"auths"`
}

// Config is the fully-resolved runtime configuration: PluginRefs ready to
// hand to the Loader, a verification Policy, and the auth table the
// Fetcher's http backend consults.
type Config struct {
	Plugins      []pluginref.PluginRef
	Verification verify.Policy
	Auths        map[string]pluginref.Auth

	Transport   Transport
	BindAddress string
}

// Overrides holds the flag/env layer applied on top of the file (spec §6:
// "override file"). Empty string/false/nil fields are "not set" and do not
// override the file's value.
type Overrides struct {
	Transport             string
	BindAddress           string
	InsecureSkipSignature *bool
	UseSigstoreTUFData    *bool
	RekorPubKeys          string
	FulcioCerts           string
	CertIssuer            string
	CertEmail             string
	CertURL               string
}

// Load reads and parses the YAML config file at path, then applies
// EnvOverrides() followed by overrides (file < env < flag, spec §6).
func Load(path string, overrides Overrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &hmcperr.ConfigError{Detail: fmt.Sprintf("reading config file %q: %v", path, err)}
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, &hmcperr.ConfigError{Detail: fmt.Sprintf("parsing config file %q: %v", path, err)}
	}

	cfg, err := fc.resolve()
	if err != nil {
		return nil, err
	}

	cfg.applyOverrides(EnvOverrides())
	cfg.applyOverrides(overrides)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc fileConfig) resolve() (*Config, error) {
	cfg := &Config{
		Auths: fc.Auths,
		Verification: verify.Policy{
			InsecureSkipSignature: fc.Verification.InsecureSkipSignature,
			UseSigstoreTUFData:    fc.Verification.UseSigstoreTUFData,
			CertIssuer:            fc.Verification.CertIssuer,
			CertEmail:             fc.Verification.CertEmail,
			CertURL:               fc.Verification.CertURL,
		},
		Transport: TransportStdio,
	}
	if cfg.Auths == nil {
		cfg.Auths = map[string]pluginref.Auth{}
	}

	if fc.Verification.RekorPubKeys != "" {
		keys, err := readPEMBundle(fc.Verification.RekorPubKeys)
		if err != nil {
			return nil, &hmcperr.ConfigError{Detail: fmt.Sprintf("loading rekor_pub_keys: %v", err)}
		}
		cfg.Verification.RekorPubKeys = keys
	}
	if fc.Verification.FulcioCerts != "" {
		certs, err := readPEMBundle(fc.Verification.FulcioCerts)
		if err != nil {
			return nil, &hmcperr.ConfigError{Detail: fmt.Sprintf("loading fulcio_certs: %v", err)}
		}
		cfg.Verification.FulcioCerts = certs
	}

	for _, fp := range fc.Plugins {
		ref, err := fp.toRef()
		if err != nil {
			return nil, err
		}
		cfg.Plugins = append(cfg.Plugins, ref)
	}
	return cfg, nil
}

func (fp filePlugin) toRef() (pluginref.PluginRef, error) {
	if fp.Name == "" || fp.URL == "" {
		return pluginref.PluginRef{}, &hmcperr.ConfigError{Detail: "plugin entry requires both name and url"}
	}

	caps := capability.Set{
		Env:            fp.Config,
		MemoryMaxBytes: fp.MemoryMaxBytes,
		TimeoutMS:      fp.TimeoutMS,
	}
	if fp.RuntimeConfig != nil {
		caps.AllowedHosts = fp.RuntimeConfig.AllowedHosts
		if fp.RuntimeConfig.Env != nil {
			caps.Env = fp.RuntimeConfig.Env
		}
		for _, ap := range fp.RuntimeConfig.AllowedPaths {
			mode := capability.ReadOnly
			if ap.Mode == "read-write" {
				mode = capability.ReadWrite
			}
			caps.AllowedPaths = append(caps.AllowedPaths, capability.PathMount{
				GuestPath: ap.Dst, HostPath: ap.Src, Mode: mode,
			})
		}
	}

	return pluginref.PluginRef{
		Name:          fp.Name,
		URL:           fp.URL,
		Capabilities:  caps,
		RuntimeConfig: fp.Config,
		Auth:          fp.Auth,
	}, nil
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Transport != "" {
		c.Transport = Transport(o.Transport)
	}
	if o.BindAddress != "" {
		c.BindAddress = o.BindAddress
	}
	if o.InsecureSkipSignature != nil {
		c.Verification.InsecureSkipSignature = *o.InsecureSkipSignature
	}
	if o.UseSigstoreTUFData != nil {
		c.Verification.UseSigstoreTUFData = *o.UseSigstoreTUFData
	}
	if o.RekorPubKeys != "" {
		if keys, err := readPEMBundle(o.RekorPubKeys); err == nil {
			c.Verification.RekorPubKeys = keys
		}
	}
	if o.FulcioCerts != "" {
		if certs, err := readPEMBundle(o.FulcioCerts); err == nil {
			c.Verification.FulcioCerts = certs
		}
	}
	if o.CertIssuer != "" {
		c.Verification.CertIssuer = o.CertIssuer
	}
	if o.CertEmail != "" {
		c.Verification.CertEmail = o.CertEmail
	}
	if o.CertURL != "" {
		c.Verification.CertURL = o.CertURL
	}
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportStdio, TransportSSE, TransportStreamableHTTP:
	default:
		return &hmcperr.ConfigError{Detail: fmt.Sprintf("unknown transport %q", c.Transport)}
	}
	if (c.Transport == TransportSSE || c.Transport == TransportStreamableHTTP) && c.BindAddress == "" {
		return &hmcperr.ConfigError{Detail: fmt.Sprintf("transport %q requires --bind-address", c.Transport)}
	}
	seen := map[string]bool{}
	for _, ref := range c.Plugins {
		if seen[ref.Name] {
			return &hmcperr.ConfigError{Detail: fmt.Sprintf("duplicate plugin name %q in config file", ref.Name)}
		}
		seen[ref.Name] = true
		if _, err := ref.Scheme(); err != nil {
			return &hmcperr.ConfigError{Detail: err.Error()}
		}
	}
	return nil
}

// EnvOverrides builds an Overrides from HYPER_MCP_* environment variables
// (spec §6).
func EnvOverrides() Overrides {
	o := Overrides{
		Transport:    os.Getenv("HYPER_MCP_TRANSPORT"),
		BindAddress:  os.Getenv("HYPER_MCP_BIND_ADDRESS"),
		RekorPubKeys: os.Getenv("HYPER_MCP_REKOR_PUB_KEYS"),
		FulcioCerts:  os.Getenv("HYPER_MCP_FULCIO_CERTS"),
		CertIssuer:   os.Getenv("HYPER_MCP_CERT_ISSUER"),
		CertEmail:    os.Getenv("HYPER_MCP_CERT_EMAIL"),
		CertURL:      os.Getenv("HYPER_MCP_CERT_URL"),
	}
	if v, ok := os.LookupEnv("HYPER_MCP_INSECURE_SKIP_SIGNATURE"); ok {
		b, _ := strconv.ParseBool(v)
		o.InsecureSkipSignature = &b
	}
	if v, ok := os.LookupEnv("HYPER_MCP_USE_SIGSTORE_TUF_DATA"); ok {
		b, _ := strconv.ParseBool(v)
		o.UseSigstoreTUFData = &b
	}
	return o
}

func readPEMBundle(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return splitPEMBlocks(string(data)), nil
}

func splitPEMBlocks(data string) []string {
	const marker = "-----BEGIN"
	const endMarker = "-----END"
	var blocks []string
	rest := data
	for {
		idx := strings.Index(rest, marker)
		if idx < 0 {
			break
		}
		rest = rest[idx:]
		end := strings.Index(rest, endMarker)
		if end < 0 {
			break
		}
		tail := strings.Index(rest[end+len(endMarker):], "-----")
		if tail < 0 {
			break
		}
		end += len(endMarker) + tail + len("-----")
		blocks = append(blocks, rest[:end])
		rest = rest[end:]
	}
	return blocks
}
