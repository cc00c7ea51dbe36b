// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Ergon configuration from YAML files and ERGON_*
// environment variables, with sane defaults for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Registry  RegistryConfig  `koanf:"registry"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// LLMConfig selects and configures the backing provider.
type LLMConfig struct {
	Provider string `koanf:"provider"` // openai, anthropic, ollama
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

// RetryConfig is the transient-failure retry budget for provider calls.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
}

// DispatchConfig controls the completion dispatcher.
type DispatchConfig struct {
	// Protocol selects how tool calls travel: "native" uses the provider's
	// function-calling API, "textual" embeds fenced tool blocks in text,
	// "auto" picks per model capability.
	Protocol string `koanf:"protocol"`

	// RequestTimeout bounds a single provider call. Zero disables.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	Retry RetryConfig `koanf:"retry"`

	// Capabilities overrides the built-in model capability table. Keys are
	// model name substrings, values are capability flag names.
	Capabilities map[string][]string `koanf:"capabilities"`
}

// RegistryConfig controls declarative artifact discovery.
type RegistryConfig struct {
	// AutoloadPaths are directories scanned for agent and workflow manifests.
	AutoloadPaths []string `koanf:"autoload_paths"`
}

// AuditConfig controls workflow audit event persistence.
type AuditConfig struct {
	Store string `koanf:"store"` // none, memory, sqlite
	Path  string `koanf:"path"`  // sqlite database file
}

// MCPConfig wires external MCP tool servers into the registry.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Command string        `koanf:"command"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout"`
}

// TelemetryConfig controls trace/metric export.
type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// envPrefix maps ERGON_DISPATCH_PROTOCOL to dispatch.protocol.
const envPrefix = "ERGON_"

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "llama3.1")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("dispatch.protocol", "auto")
	k.Set("dispatch.request_timeout", "120s")
	k.Set("dispatch.retry.max_attempts", 3)
	k.Set("dispatch.retry.initial_delay", "200ms")
	k.Set("dispatch.retry.max_delay", "10s")
	k.Set("audit.store", "none")
	k.Set("audit.path", "ergon_audit.db")
	k.Set("telemetry.exporter", "none")
}

// Load reads configuration from the optional YAML file at path, then from
// ERGON_* environment variables, layered over the defaults.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus an overlay: for config.yaml and profile "dev",
// config.dev.yaml is merged on top of the base file when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if profile != "" {
			overlay := profilePath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", overlay, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// profilePath turns dir/config.yaml + "dev" into dir/config.dev.yaml.
func profilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func (c *Config) validate() error {
	switch c.Dispatch.Protocol {
	case "", "auto", "native", "textual":
	default:
		return fmt.Errorf("invalid dispatch.protocol %q (want auto, native or textual)", c.Dispatch.Protocol)
	}
	switch c.Audit.Store {
	case "", "none", "memory", "sqlite":
	default:
		return fmt.Errorf("invalid audit.store %q (want none, memory or sqlite)", c.Audit.Store)
	}
	if c.Dispatch.Retry.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.retry.max_attempts must be >= 1, got %d", c.Dispatch.Retry.MaxAttempts)
	}
	return nil
}
