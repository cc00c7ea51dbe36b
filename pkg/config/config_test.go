// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Dispatch.Protocol != "auto" {
		t.Errorf("expected default protocol auto, got %s", cfg.Dispatch.Protocol)
	}
	if cfg.Dispatch.Retry.MaxAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Dispatch.Retry.MaxAttempts)
	}
	if cfg.Dispatch.RequestTimeout != 120*time.Second {
		t.Errorf("expected 120s request timeout, got %s", cfg.Dispatch.RequestTimeout)
	}
	if cfg.Audit.Store != "none" {
		t.Errorf("expected audit store none, got %s", cfg.Audit.Store)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ERGON_LLM_PROVIDER", "openai")
	t.Setenv("ERGON_DISPATCH_PROTOCOL", "textual")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider openai from env, got %s", cfg.LLM.Provider)
	}
	if cfg.Dispatch.Protocol != "textual" {
		t.Errorf("expected protocol textual from env, got %s", cfg.Dispatch.Protocol)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
dispatch:
  protocol: native
  retry:
    max_attempts: 5
  capabilities:
    "my-local-model": ["function_calling"]
registry:
  autoload_paths: ["./agents", "./workflows"]
audit:
  store: sqlite
  path: runs.db
mcp:
  servers:
    files:
      command: mcp-files
      args: ["--root", "/tmp"]
      timeout: 15s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %s", cfg.LLM.Provider)
	}
	if cfg.Dispatch.Retry.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d", cfg.Dispatch.Retry.MaxAttempts)
	}
	if got := cfg.Dispatch.Capabilities["my-local-model"]; len(got) != 1 || got[0] != "function_calling" {
		t.Errorf("capabilities = %v", cfg.Dispatch.Capabilities)
	}
	if len(cfg.Registry.AutoloadPaths) != 2 {
		t.Errorf("autoload_paths = %v", cfg.Registry.AutoloadPaths)
	}
	if cfg.Audit.Store != "sqlite" || cfg.Audit.Path != "runs.db" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	srv, ok := cfg.MCP.Servers["files"]
	if !ok || srv.Command != "mcp-files" || len(srv.Args) != 2 || srv.Timeout != 15*time.Second {
		t.Errorf("mcp servers = %+v", cfg.MCP.Servers)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(base, []byte("llm:\n  provider: ollama\n  model: llama3.1\nlog:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.dev.yaml"), []byte("llm:\n  provider: openai\nlog:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithProfile(base, "dev")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.Log.Level != "debug" {
		t.Errorf("profile not applied: %+v", cfg)
	}
	if cfg.LLM.Model != "llama3.1" {
		t.Errorf("base value lost: %s", cfg.LLM.Model)
	}

	// Missing profile overlay falls back to the base file.
	cfg, err = LoadWithProfile(base, "staging")
	if err != nil {
		t.Fatalf("LoadWithProfile fallback failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("fallback provider = %s", cfg.LLM.Provider)
	}
}

func TestLoadRejectsInvalidProtocol(t *testing.T) {
	t.Setenv("ERGON_DISPATCH_PROTOCOL", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for bad protocol")
	}
}

func TestLoadRejectsInvalidAuditStore(t *testing.T) {
	t.Setenv("ERGON_AUDIT_STORE", "postgres")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for bad audit store")
	}
}
