// Package config loads the proxy's server and policy configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid is returned when a config file is missing the
// required server or policy section.
var ErrConfigInvalid = errors.New("config invalid")

// ErrBadListenSpec is returned when server.listen is not host:port.
var ErrBadListenSpec = errors.New("bad listen spec")

// ServerConfig is the listen address and default upstream for the proxy.
type ServerConfig struct {
	Listen   string `yaml:"listen" json:"listen"`
	Upstream string `yaml:"upstream" json:"upstream"`
}

// PolicyDefaults are the fallback num_ctx/keep_alive values applied to
// every chat/generate request that doesn't set them itself.
type PolicyDefaults struct {
	NumCtx    *int        `yaml:"num_ctx" json:"num_ctx"`
	KeepAlive interface{} `yaml:"keep_alive" json:"keep_alive"`
}

// ModelPolicy overrides PolicyDefaults for one exact model name, and
// optionally routes that model to a different upstream.
type ModelPolicy struct {
	NumCtx    *int        `yaml:"num_ctx" json:"num_ctx"`
	KeepAlive interface{} `yaml:"keep_alive" json:"keep_alive"`
	Upstream  string      `yaml:"upstream" json:"upstream"`

	// UpstreamModel rewrites payload.model to this value before the
	// request leaves the proxy, so a client-facing alias can differ
	// from the name the upstream actually serves. Unset means no rewrite.
	UpstreamModel string `yaml:"upstream_model" json:"upstream_model"`
}

// PolicyConfig is the full set of defaults plus per-model overrides.
type PolicyConfig struct {
	Defaults PolicyDefaults         `yaml:"defaults" json:"defaults"`
	Models   map[string]ModelPolicy `yaml:"models" json:"models"`
}

// AppConfig is the immutable, process-lifetime configuration for the proxy.
type AppConfig struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Policy PolicyConfig `yaml:"policy" json:"policy"`
}

// ModelPolicyFor looks up a model's override, if any configured.
func (c *AppConfig) ModelPolicyFor(model string) (ModelPolicy, bool) {
	if model == "" || c.Policy.Models == nil {
		return ModelPolicy{}, false
	}
	mp, ok := c.Policy.Models[model]
	return mp, ok
}

// ModelNames returns the configured model names in the policy. Order is
// not guaranteed; callers that need a stable order should sort.
func (c *AppConfig) ModelNames() []string {
	names := make([]string, 0, len(c.Policy.Models))
	for name := range c.Policy.Models {
		names = append(names, name)
	}
	return names
}

// Load reads and validates an AppConfig from path. The format is chosen
// by file extension: ".json" decodes as JSON, anything else as YAML.
func Load(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses raw config bytes. ext (typically a file path) selects
// JSON decoding when it ends in ".json"; YAML otherwise.
func LoadBytes(data []byte, ext string) (AppConfig, error) {
	var raw map[string]any
	if strings.EqualFold(filepath.Ext(ext), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return AppConfig{}, fmt.Errorf("parsing config json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return AppConfig{}, fmt.Errorf("parsing config yaml: %w", err)
		}
	}

	if _, ok := raw["server"]; !ok {
		return AppConfig{}, fmt.Errorf("%w: missing server section", ErrConfigInvalid)
	}
	if _, ok := raw["policy"]; !ok {
		return AppConfig{}, fmt.Errorf("%w: missing policy section", ErrConfigInvalid)
	}

	var cfg AppConfig
	if strings.EqualFold(filepath.Ext(ext), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decoding config json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decoding config yaml: %w", err)
		}
	}

	if _, _, err := ParseListen(cfg.Server.Listen); err != nil {
		return AppConfig{}, err
	}
	if cfg.Server.Upstream == "" {
		return AppConfig{}, fmt.Errorf("%w: server.upstream is required", ErrConfigInvalid)
	}

	return cfg, nil
}

// ParseListen splits a "host:port" listen spec into its parts. LoadBytes
// calls it to reject a server.listen value without a ":".
func ParseListen(listen string) (host, port string, err error) {
	idx := strings.LastIndex(listen, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q must be in host:port format", ErrBadListenSpec, listen)
	}
	return listen[:idx], listen[idx+1:], nil
}
