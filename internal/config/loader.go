// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for agentbroker.hjson first, then agentbroker.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"agentbroker.hjson",
		"agentbroker.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for agentbroker.hjson, agentbroker.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Limits.MaxLineBytes == 0 {
		cfg.Limits.MaxLineBytes = 100 * 1024
	}
	if cfg.Limits.ToolOutputCapBytes == 0 {
		cfg.Limits.ToolOutputCapBytes = 100 * 1024
	}
	if cfg.Limits.BashTimeout == "" {
		cfg.Limits.BashTimeout = "120s"
	}
	if cfg.Limits.KillTimeout == "" {
		cfg.Limits.KillTimeout = "5s"
	}
	if cfg.Limits.StreamIdleKeepalive == "" {
		cfg.Limits.StreamIdleKeepalive = "30s"
	}
	if cfg.Limits.StreamIdleKill == "" {
		cfg.Limits.StreamIdleKill = "5m"
	}
	if cfg.Limits.DefaultPermissionMode == "" {
		cfg.Limits.DefaultPermissionMode = "default"
	}

	if cfg.Shim.MaxIterations == 0 {
		cfg.Shim.MaxIterations = 50
	}
	if cfg.Shim.ApprovalPolicy == "" {
		cfg.Shim.ApprovalPolicy = "prompt"
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Name != "claude" && cfg.Providers[i].ShimMode == "" {
			cfg.Providers[i].ShimMode = "translate"
		}
	}
}
