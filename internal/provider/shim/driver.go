// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package shim implements Mode A of the translation shim (ShimDriver, C6):
// it spawns an upstream agentic CLI (`gemini`, `codex`) that already runs
// its own Think/Act/Observe loop, and reshapes that CLI's native
// stream-json into the canonical event schema every subscriber expects.
package shim

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/config"
)

// Driver is the broker.ProviderAdapter for an upstream agentic CLI. It
// carries no per-turn state itself; NewLineTranslator hands pump a fresh
// translator per spawned child so concurrent sessions never share a
// partial-call buffer or id counter.
type Driver struct {
	cfg config.ProviderConfig
}

// New builds a Driver for one non-Claude provider entry.
func New(cfg config.ProviderConfig) *Driver {
	return &Driver{cfg: cfg}
}

var (
	_ broker.ProviderAdapter       = (*Driver)(nil)
	_ broker.LineTranslatorFactory = (*Driver)(nil)
)

// BuildArgv constructs the upstream CLI invocation: the provider's
// configured base args, the prompt as a trailing positional argument, and a
// continuation flag when resuming a prior provider session.
func (d *Driver) BuildArgv(spec broker.SpawnSpec) ([]string, map[string]string, error) {
	binary := d.cfg.Binary
	if binary == "" {
		binary = d.cfg.Name
	}

	args := append([]string{}, d.cfg.Args...)
	if spec.ProviderSessionID != "" {
		args = append(args, "--resume", spec.ProviderSessionID)
	}
	args = append(args, spec.Prompt)

	argv := append([]string{binary}, args...)
	return argv, d.filteredEnv(spec), nil
}

// SendTurn is a no-op: the prompt is already encoded into argv by BuildArgv.
func (d *Driver) SendTurn(stdin io.Writer, spec broker.SpawnSpec) error {
	return nil
}

// NewLineTranslator returns a fresh per-spawn translator. Mode A's
// translator needs no turn context beyond the provider name: the upstream
// CLI's own stream carries session id, model, and everything else per line.
func (d *Driver) NewLineTranslator(spec broker.SpawnSpec) broker.LineTranslator {
	return &translator{provider: d.cfg.Name}
}

var passthroughEnvVars = []string{"PATH", "HOME", "USER", "SHELL", "LANG", "NODE_PATH"}

func (d *Driver) filteredEnv(spec broker.SpawnSpec) map[string]string {
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
	env["AGENTBROKER_PROVIDER"] = d.cfg.Name
	return env
}

// UnsupportedLineError is returned (wrapped) when a translator cannot parse
// an alien line as JSON at all; the broker surfaces it as a system/error
// event rather than dropping the line silently.
type UnsupportedLineError struct {
	Line string
}

func (e *UnsupportedLineError) Error() string {
	return fmt.Sprintf("shim: unparseable line: %q", e.Line)
}
