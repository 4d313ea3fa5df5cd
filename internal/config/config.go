// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package config loads the access-manager runtime configuration from an
// optional YAML file and ACCESS_MANAGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/andrewkroh/access-manager/internal/rest"
)

// EnvPrefix is the prefix of environment variables that override file
// settings. ACCESS_MANAGER_MAX_RETRIES sets max_retries, and so on.
const EnvPrefix = "ACCESS_MANAGER_"

// FallbackTokenEnv is read when no bearer token is configured otherwise.
const FallbackTokenEnv = "BEARER_TOKEN"

// ErrMissingToken is returned by Validate when no bearer token is set.
var ErrMissingToken = errors.New("missing bearer token")

// ExhaustionPolicy selects what the engine does when a request exhausts its
// retries.
type ExhaustionPolicy string

const (
	OnExhaustedAbort    ExhaustionPolicy = "abort"
	OnExhaustedContinue ExhaustionPolicy = "continue"
)

// Config is the runtime configuration.
type Config struct {
	BaseURL     string           `yaml:"base_url" koanf:"base_url"`
	BearerToken string           `yaml:"bearer_token" koanf:"bearer_token"`
	MaxRetries  int              `yaml:"max_retries" koanf:"max_retries"`
	Timeout     time.Duration    `yaml:"timeout" koanf:"timeout"`
	BackoffBase time.Duration    `yaml:"backoff_base" koanf:"backoff_base"`
	BackoffMax  time.Duration    `yaml:"backoff_max" koanf:"backoff_max"`
	OnExhausted ExhaustionPolicy `yaml:"on_exhausted" koanf:"on_exhausted"`
	LogLevel    string           `yaml:"log_level" koanf:"log_level"`
	LogFormat   string           `yaml:"log_format" koanf:"log_format"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.github.com",
		MaxRetries:  rest.DefaultMaxRetries,
		Timeout:     rest.DefaultTimeout,
		BackoffBase: rest.DefaultBackoffBase,
		BackoffMax:  rest.DefaultBackoffMax,
		OnExhausted: OnExhaustedAbort,
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Load reads configuration from the YAML file at path, if it exists, then
// overlays ACCESS_MANAGER_* environment variables. Values not set by either
// keep their defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.BearerToken == "" {
		cfg.BearerToken = os.Getenv(FallbackTokenEnv)
	}
	return cfg, nil
}

var (
	validPolicies   = map[ExhaustionPolicy]bool{OnExhaustedAbort: true, OnExhaustedContinue: true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
)

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.BearerToken == "" {
		return fmt.Errorf("%w: set bearer_token, %sBEARER_TOKEN or %s", ErrMissingToken, EnvPrefix, FallbackTokenEnv)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.BackoffBase <= 0 || c.BackoffMax <= 0 {
		return fmt.Errorf("backoff_base and backoff_max must be positive")
	}
	if c.BackoffBase > c.BackoffMax {
		return fmt.Errorf("backoff_base (%s) must not exceed backoff_max (%s)", c.BackoffBase, c.BackoffMax)
	}
	if !validPolicies[c.OnExhausted] {
		return fmt.Errorf("invalid on_exhausted %q: must be one of abort, continue", c.OnExhausted)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("invalid log_format %q: must be one of json, text", c.LogFormat)
	}
	return nil
}

// RESTOptions returns the retry and timeout settings as rest.Client options.
func (c *Config) RESTOptions() []rest.Option {
	return []rest.Option{
		rest.WithTimeout(c.Timeout),
		rest.WithMaxRetries(c.MaxRetries),
		rest.WithBackoff(c.BackoffBase, c.BackoffMax),
	}
}

// ContinueOnExhausted reports whether the engine should skip operations that
// exhausted their retries.
func (c *Config) ContinueOnExhausted() bool {
	return c.OnExhausted == OnExhaustedContinue
}
