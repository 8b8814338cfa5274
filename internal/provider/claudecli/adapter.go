// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claudecli is the ProviderAdapter for the native `claude` CLI: it
// builds the argv/env for a one-shot `--print` invocation (optionally
// `--resume`d), filters the child's environment down to a safe subset, and
// bridges through WSL on Windows hosts.
package claudecli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/config"
)

// passthroughEnvVars are copied from the operator's environment into every
// child's filtered environment, when present. Credentials are never part of
// this list; they are never synthesized or injected by the adapter.
var passthroughEnvVars = []string{
	"PATH", "HOME", "USER", "SHELL", "LANG", "NODE_PATH",
}

// Adapter builds argv/env for the Claude CLI per one ProviderConfig entry.
type Adapter struct {
	cfg            config.ProviderConfig
	permissionMode string
	sessionTag     string // not read: filteredEnv always sets AGENTBROKER_SESSION_ID from broker.SpawnSpec.SessionID
}

// New builds an Adapter for cfg, passing defaultPermissionMode (or "default"
// when empty) as the `--permission-mode` flag value on every turn; a turn
// cannot override it.
func New(cfg config.ProviderConfig, defaultPermissionMode string) *Adapter {
	if defaultPermissionMode == "" {
		defaultPermissionMode = "default"
	}
	return &Adapter{cfg: cfg, permissionMode: defaultPermissionMode}
}

var _ broker.ProviderAdapter = (*Adapter)(nil)

// BuildArgv constructs the claude invocation for spec, bridging through WSL
// when the provider config requests it.
func (a *Adapter) BuildArgv(spec broker.SpawnSpec) ([]string, map[string]string, error) {
	binary := a.cfg.Binary
	if binary == "" {
		binary = "claude"
	}

	args := append([]string{}, a.cfg.Args...)
	args = append(args, "--print", spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", a.permissionMode,
	)
	model := resolveModel(a.cfg, spec.Model)
	if model != "" {
		args = append(args, "--model", model)
	}
	if spec.ProviderSessionID != "" {
		args = append(args, "--resume", spec.ProviderSessionID)
	}

	env := a.filteredEnv(spec)

	if !a.cfg.WSLBridge {
		argv := append([]string{binary}, args...)
		return argv, env, nil
	}

	cwd, err := translateWindowsPath(spec.CWD)
	if err != nil {
		return nil, nil, fmt.Errorf("claudecli: %w", err)
	}
	script := "cd " + posixQuote(cwd) + " && " + shellJoin(append([]string{binary}, args...))
	argv := []string{"wsl.exe", "--", "bash", "-lc", script}
	return argv, env, nil
}

// SendTurn is a no-op: the prompt is already encoded into argv by BuildArgv,
// since `claude --print` is a one-shot invocation rather than a long-lived
// process fed turns over stdin.
func (a *Adapter) SendTurn(stdin io.Writer, spec broker.SpawnSpec) error {
	return nil
}

// resolveModel applies the provider's model-alias table before falling back
// to the turn's requested model or the provider's configured default.
func resolveModel(cfg config.ProviderConfig, requested string) string {
	if requested != "" {
		if alias, ok := cfg.ModelAliases[requested]; ok {
			return alias
		}
		return requested
	}
	return cfg.Model
}

// filteredEnv builds the child's entire environment (passed as a non-nil
// registry.Spec.Env, which the registry then uses verbatim rather than
// layering onto the operator's own environment): a fixed passthrough subset,
// every LC_* locale variable, and two broker-added debug tags correlating
// the child process back to the session/turn that spawned it.
func (a *Adapter) filteredEnv(spec broker.SpawnSpec) map[string]string {
	env := make(map[string]string)
	for _, key := range passthroughEnvVars {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "LC_") {
			if eq := strings.IndexByte(kv, '='); eq >= 0 {
				env[kv[:eq]] = kv[eq+1:]
			}
		}
	}
	env["AGENTBROKER_SESSION_ID"] = spec.SessionID
	env["AGENTBROKER_PROVIDER"] = a.cfg.Name
	return env
}

var windowsPathPattern = regexp.MustCompile(`^([A-Za-z]):\\(.*)$`)

// translateWindowsPath converts a Windows absolute path (`C:\foo\bar`) into
// the path WSL mounts it at (`/mnt/c/foo/bar`). Paths already in POSIX form
// are returned unchanged.
func translateWindowsPath(p string) (string, error) {
	m := windowsPathPattern.FindStringSubmatch(p)
	if m == nil {
		if strings.HasPrefix(p, "/") {
			return p, nil
		}
		return "", fmt.Errorf("cannot translate %q into a WSL mount path", p)
	}
	drive := strings.ToLower(m[1])
	rest := strings.ReplaceAll(m[2], `\`, "/")
	return "/mnt/" + drive + "/" + rest, nil
}

// posixQuote wraps s in single quotes, escaping any embedded single quote so
// the whole string survives as one token inside `bash -lc '...'` regardless
// of what bytes it contains.
func posixQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin posix-quotes every argument and joins them with spaces, for
// embedding a full argv as a single string passed to `bash -lc`.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = posixQuote(a)
	}
	return strings.Join(quoted, " ")
}
