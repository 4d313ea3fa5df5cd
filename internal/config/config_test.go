// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets variables that would leak into Load from the test
// environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) || name == FallbackTokenEnv {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access-manager.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL != "https://api.github.com" {
		t.Errorf("base_url: got %q", cfg.BaseURL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max_retries: got %d, want 3", cfg.MaxRetries)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("timeout: got %s, want 10s", cfg.Timeout)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffMax != 10*time.Second {
		t.Errorf("backoff: got %s..%s, want 1s..10s", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.OnExhausted != OnExhaustedAbort {
		t.Errorf("on_exhausted: got %q, want abort", cfg.OnExhausted)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("logging: got %q/%q, want info/json", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected defaults, got max_retries=%d", cfg.MaxRetries)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
base_url: http://localhost:8080
bearer_token: file-token
max_retries: 5
timeout: 30s
backoff_base: 2s
on_exhausted: continue
log_format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("base_url: got %q", cfg.BaseURL)
	}
	if cfg.BearerToken != "file-token" {
		t.Errorf("bearer_token: got %q", cfg.BearerToken)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("max_retries: got %d, want 5", cfg.MaxRetries)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("timeout: got %s, want 30s", cfg.Timeout)
	}
	if cfg.BackoffBase != 2*time.Second {
		t.Errorf("backoff_base: got %s, want 2s", cfg.BackoffBase)
	}
	// Unset keys keep their defaults.
	if cfg.BackoffMax != 10*time.Second {
		t.Errorf("backoff_max: got %s, want 10s", cfg.BackoffMax)
	}
	if !cfg.ContinueOnExhausted() {
		t.Error("expected continue policy")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("logging: got %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "bearer_token: file-token\nmax_retries: 5\n")
	t.Setenv("ACCESS_MANAGER_BEARER_TOKEN", "env-token")
	t.Setenv("ACCESS_MANAGER_MAX_RETRIES", "7")
	t.Setenv("ACCESS_MANAGER_TIMEOUT", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BearerToken != "env-token" {
		t.Errorf("bearer_token: got %q, want env-token", cfg.BearerToken)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("max_retries: got %d, want 7", cfg.MaxRetries)
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Errorf("timeout: got %s, want 250ms", cfg.Timeout)
	}
}

func TestLoad_FallbackToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("BEARER_TOKEN", "fallback-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BearerToken != "fallback-token" {
		t.Errorf("bearer_token: got %q, want fallback-token", cfg.BearerToken)
	}

	// An explicit setting wins over the fallback.
	t.Setenv("ACCESS_MANAGER_BEARER_TOKEN", "explicit")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BearerToken != "explicit" {
		t.Errorf("bearer_token: got %q, want explicit", cfg.BearerToken)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "max_retries: [\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.BearerToken = "token"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.BearerToken = "" }, "missing bearer token"},
		{"empty base url", func(c *Config) { c.BaseURL = "" }, "base_url"},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"negative backoff", func(c *Config) { c.BackoffBase = -time.Second }, "backoff_base"},
		{"base above max", func(c *Config) { c.BackoffBase = time.Minute }, "must not exceed"},
		{"bad policy", func(c *Config) { c.OnExhausted = "ignore" }, "on_exhausted"},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MissingTokenSentinel(t *testing.T) {
	err := DefaultConfig().Validate()
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got: %v", err)
	}
}
