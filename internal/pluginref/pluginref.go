// Package pluginref models PluginRef, the immutable declaration of a
// plugin produced by the config loader (spec §3): a stable local name, a
// source URL, a declared capability set, an optional runtime config map,
// and an optional authentication binding.
package pluginref

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/hyper-mcp/hyper-mcp/internal/capability"
)

// Scheme enumerates the URL schemes a Fetcher backend is registered for.
type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeS3    Scheme = "s3"
	SchemeOCI   Scheme = "oci"
)

// Auth is the authentication binding carried by a PluginRef (spec §6
// auths{<url> -> {username,password} | {bearer}}).
type Auth struct {
	Scheme      string `yaml:"scheme,omitempty" json:"scheme,omitempty"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	Bearer      string `yaml:"bearer,omitempty" json:"bearer,omitempty"`
}

// PluginRef is the immutable declaration of a plugin. Created by the config
// loader; destroyed on reload when absent from the new config.
type PluginRef struct {
	Name          string            `yaml:"name" json:"name"`
	URL           string            `yaml:"url" json:"url"`
	Capabilities  capability.Set    `yaml:"-" json:"-"`
	RuntimeConfig map[string]string `yaml:"-" json:"-"`
	Auth          *Auth             `yaml:"-" json:"-"`
}

// Scheme parses and returns the PluginRef's URL scheme.
func (r PluginRef) Scheme() (Scheme, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("plugin %q: invalid url %q: %w", r.Name, r.URL, err)
	}
	switch Scheme(u.Scheme) {
	case SchemeFile, SchemeHTTP, SchemeHTTPS, SchemeS3, SchemeOCI:
		return Scheme(u.Scheme), nil
	default:
		return "", fmt.Errorf("plugin %q: unsupported url scheme %q", r.Name, u.Scheme)
	}
}

// ConfigHash is a deterministic digest of the fields hot reload diffs a
// PluginRef on: (name, url, config_hash) per spec §4.5. Two refs with the
// same hash are treated as unchanged and the live Plugin is retained.
func (r PluginRef) ConfigHash() string {
	keys := make([]string, 0, len(r.RuntimeConfig))
	for k := range r.RuntimeConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]string, len(keys))
	for _, k := range keys {
		ordered[k] = r.RuntimeConfig[k]
	}

	payload := struct {
		Name    string
		URL     string
		Caps    capability.Set
		Config  map[string]string
		HasAuth bool
	}{r.Name, r.URL, r.Capabilities, ordered, r.Auth != nil}

	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
