// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the broker.
package config

import "time"

// Config is the root configuration structure for the broker.
type Config struct {
	Version   string           `json:"version"`
	Server    ServerConfig     `json:"server"`
	Sandbox   SandboxConfig    `json:"sandbox"`
	Providers []ProviderConfig `json:"providers"`
	Limits    LimitsConfig     `json:"limits"`
	Shim      ShimConfig       `json:"shim"`
	Logging   LoggingConfig    `json:"logging"`
}

// ServerConfig configures the BoundaryAPI HTTP/WebSocket listener.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // operator-supplied cert; HTTPS enabled if both set
	TLSKey  string `json:"tls_key"`
}

// SandboxConfig defines the filesystem roots ToolExecutor may touch.
type SandboxConfig struct {
	AdditionalRoots []string `json:"additional_roots"` // beyond a session's own cwd
	NativeSessionsRoot string `json:"native_sessions_root"` // native Claude projects root, always allow-listed
	ShimSessionsRoot    string `json:"shim_sessions_root"`  // shim sessions root, always allow-listed
}

// ProviderConfig describes one external CLI the broker can spawn.
type ProviderConfig struct {
	Name         string            `json:"name"` // "claude", "gemini", "openai"
	Binary       string            `json:"binary"`
	Args         []string          `json:"args"`
	Model        string            `json:"model"`
	ModelAliases map[string]string `json:"model_aliases"`
	WSLBridge    bool              `json:"wsl_bridge"`
	ShimMode     string            `json:"shim_mode"` // "translate" (Mode A) or "agent" (Mode B); claude ignores this
}

// LimitsConfig defines size/time ceilings enforced across the broker.
type LimitsConfig struct {
	MaxLineBytes          int    `json:"max_line_bytes"`          // default 100KiB, streamjson framing overflow threshold
	MaxConcurrentSessions int    `json:"max_concurrent_sessions"` // 0 = unlimited
	ToolOutputCapBytes    int    `json:"tool_output_cap_bytes"`   // default 100KiB
	BashTimeout           string `json:"bash_timeout"`            // default "120s"
	KillTimeout           string `json:"kill_timeout"`            // graceful-wait before SIGKILL, default "5s"
	StreamIdleKeepalive   string `json:"stream_idle_keepalive"`   // default "30s"
	StreamIdleKill        string `json:"stream_idle_kill"`        // default "5m"
	DefaultPermissionMode string `json:"default_permission_mode"`
}

// ShimConfig configures the translation/agent-loop shim shared by non-Claude providers.
type ShimConfig struct {
	MaxIterations  int    `json:"max_iterations"`  // Think->Act->Observe cap, default 50
	ApprovalPolicy string `json:"approval_policy"` // "prompt", "auto-approve", "deny-all"
}

// LoggingConfig configures component-prefixed stdlib logging.
type LoggingConfig struct {
	Level string `json:"level"` // "debug", "info", "warn", "error"
}

// ParseDuration parses a duration string, returning a default if empty or invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// BashTimeoutOrDefault returns the configured Bash tool timeout, defaulting to 120s.
func (l LimitsConfig) BashTimeoutOrDefault() time.Duration {
	return ParseDuration(l.BashTimeout, 120*time.Second)
}

// KillTimeoutOrDefault returns the graceful-kill wait, defaulting to 5s.
func (l LimitsConfig) KillTimeoutOrDefault() time.Duration {
	return ParseDuration(l.KillTimeout, 5*time.Second)
}

// StreamIdleKeepaliveOrDefault returns the keepalive interval, defaulting to 30s.
func (l LimitsConfig) StreamIdleKeepaliveOrDefault() time.Duration {
	return ParseDuration(l.StreamIdleKeepalive, 30*time.Second)
}

// StreamIdleKillOrDefault returns the silence-to-kill duration, defaulting to 5m.
func (l LimitsConfig) StreamIdleKillOrDefault() time.Duration {
	return ParseDuration(l.StreamIdleKill, 5*time.Minute)
}

// MaxLineBytesOrDefault returns the framing overflow threshold, defaulting to 100KiB.
func (l LimitsConfig) MaxLineBytesOrDefault() int {
	if l.MaxLineBytes > 0 {
		return l.MaxLineBytes
	}
	return 100 * 1024
}

// ToolOutputCapBytesOrDefault returns the tool output cap, defaulting to 100KiB.
func (l LimitsConfig) ToolOutputCapBytesOrDefault() int {
	if l.ToolOutputCapBytes > 0 {
		return l.ToolOutputCapBytes
	}
	return 100 * 1024
}

// ShimModeOrDefault returns the provider's shim mode, defaulting to "translate" per
// the broker's Mode-A-first rollout.
func (p ProviderConfig) ShimModeOrDefault() string {
	if p.ShimMode == "" {
		return "translate"
	}
	return p.ShimMode
}

// Find returns the ProviderConfig for name, and whether it was found.
func (c *Config) Find(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
