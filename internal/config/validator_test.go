// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Version: "1",
		Server:  ServerConfig{Port: 8787, Host: "127.0.0.1"},
		Providers: []ProviderConfig{
			{Name: "claude", Binary: "claude"},
			{Name: "gemini", Binary: "gemini", ShimMode: "translate"},
		},
		Limits: LimitsConfig{
			BashTimeout:           "120s",
			DefaultPermissionMode: "default",
		},
		Shim: ShimConfig{ApprovalPolicy: "prompt"},
	}
}

func TestValidator_Valid(t *testing.T) {
	v := NewValidator()
	err := v.Validate(validConfig())
	assert.NoError(t, err)
}

func TestValidator_MissingVersion(t *testing.T) {
	cfg := validConfig()
	cfg.Version = ""

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestValidator_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidator_MismatchedTLS(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSCert = "/tmp/cert.pem"

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls_cert and tls_key")
}

func TestValidator_DuplicateProviderNames(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "claude", Binary: "claude"})

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider name")
}

func TestValidator_ProviderMissingBinary(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Binary = ""

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers[0].binary")
}

func TestValidator_InvalidShimMode(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[1].ShimMode = "bogus"

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shim_mode")
}

func TestValidator_ClaudeRejectsShimMode(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].ShimMode = "agent"

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude is the native provider")
}

func TestValidator_NegativeLimits(t *testing.T) {
	cfg := validConfig()
	cfg.Limits.MaxLineBytes = -1
	cfg.Limits.MaxConcurrentSessions = -1
	cfg.Limits.ToolOutputCapBytes = -1

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, ve.Errors, 3)
}

func TestValidator_BadDuration(t *testing.T) {
	cfg := validConfig()
	cfg.Limits.BashTimeout = "not-a-duration"

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limits.bash_timeout")
}

func TestValidator_InvalidPermissionMode(t *testing.T) {
	cfg := validConfig()
	cfg.Limits.DefaultPermissionMode = "godmode"

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_permission_mode")
}

func TestValidator_InvalidApprovalPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Shim.ApprovalPolicy = "ask-nicely"

	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval_policy")
}

func TestValidationError_IsEmpty(t *testing.T) {
	ve := &ValidationError{}
	assert.True(t, ve.IsEmpty())
	ve.Add("field", "message")
	assert.False(t, ve.IsEmpty())
	assert.Equal(t, "field: message", ve.Error())
}
