// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity. It only checks structure (types,
// ranges, cross-references); it never rejects a config for semantic reasons
// like an unreachable binary, since that's only discoverable at spawn time.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateServer(cfg, errs)
	v.validateProviders(cfg, errs)
	v.validateLimits(cfg, errs)
	v.validateShim(cfg, errs)
	v.validateLogging(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Version == "" {
		errs.Add("version", "is required")
	}
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}
	hasCertKey := cfg.Server.TLSCert != "" || cfg.Server.TLSKey != ""
	if hasCertKey && (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.Add("server", "both tls_cert and tls_key must be specified together")
	}
}

func (v *Validator) validateProviders(cfg *Config, errs *ValidationError) {
	seenNames := make(map[string]bool)
	validModes := map[string]bool{"": true, "translate": true, "agent": true}

	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)

		if p.Name == "" {
			errs.Add(prefix+".name", "is required")
		} else if seenNames[p.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate provider name '%s'", p.Name))
		} else {
			seenNames[p.Name] = true
		}

		if p.Binary == "" {
			errs.Add(prefix+".binary", "is required")
		}

		if !validModes[p.ShimMode] {
			errs.Add(prefix+".shim_mode", fmt.Sprintf("invalid mode '%s', must be one of: translate, agent", p.ShimMode))
		}
		if p.Name == "claude" && p.ShimMode != "" {
			errs.Add(prefix+".shim_mode", "claude is the native provider and has no shim mode")
		}
	}
}

func (v *Validator) validateLimits(cfg *Config, errs *ValidationError) {
	l := cfg.Limits
	if l.MaxLineBytes < 0 {
		errs.Add("limits.max_line_bytes", "must not be negative")
	}
	if l.MaxConcurrentSessions < 0 {
		errs.Add("limits.max_concurrent_sessions", "must not be negative (0 means unlimited)")
	}
	if l.ToolOutputCapBytes < 0 {
		errs.Add("limits.tool_output_cap_bytes", "must not be negative")
	}

	durations := map[string]string{
		"limits.bash_timeout":          l.BashTimeout,
		"limits.kill_timeout":          l.KillTimeout,
		"limits.stream_idle_keepalive": l.StreamIdleKeepalive,
		"limits.stream_idle_kill":      l.StreamIdleKill,
	}
	for field, val := range durations {
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			errs.Add(field, fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add(field, "must be positive")
		}
	}

	if l.DefaultPermissionMode != "" {
		validModes := map[string]bool{"default": true, "acceptEdits": true, "bypassPermissions": true, "plan": true}
		if !validModes[l.DefaultPermissionMode] {
			errs.Add("limits.default_permission_mode", fmt.Sprintf("invalid mode '%s'", l.DefaultPermissionMode))
		}
	}
}

func (v *Validator) validateShim(cfg *Config, errs *ValidationError) {
	if cfg.Shim.MaxIterations < 0 {
		errs.Add("shim.max_iterations", "must not be negative")
	}
	if cfg.Shim.ApprovalPolicy != "" {
		validPolicies := map[string]bool{"prompt": true, "auto-approve": true, "deny-all": true}
		if !validPolicies[cfg.Shim.ApprovalPolicy] {
			errs.Add("shim.approval_policy", fmt.Sprintf("invalid policy '%s', must be one of: prompt, auto-approve, deny-all", cfg.Shim.ApprovalPolicy))
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}
}
