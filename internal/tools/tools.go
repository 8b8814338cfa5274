// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tools implements ToolExecutor (C8): the file, search, and shell
// operations a ShimAgentLoop (or a native provider's own agent) invokes.
// Every operation is a pure function of (input, cwd, policy) returning a
// content/isError pair; none of it holds session state.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/wingedpig/agentbroker/internal/shimagent"
)

// Result is an alias for shimagent's tool-result shape: Executor exists to
// satisfy shimagent.ToolExecutor, so its operations return that type
// directly rather than a parallel one callers would have to convert.
type Result = shimagent.ToolResult

// errorResult builds a Result carrying a formatted error message.
func errorResult(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Policy bounds what a tool invocation is allowed to touch.
type Policy struct {
	// AdditionalRoots are canonicalized absolute directories, beyond cwd,
	// that paths may resolve into (the native Claude sessions root, the
	// shim sessions root, and any operator-configured extra roots).
	AdditionalRoots []string

	// OutputCapBytes truncates any single tool's content beyond this size.
	// Zero means the package default (100 KiB) applies.
	OutputCapBytes int

	// BashTimeoutSeconds bounds how long a Bash invocation may run before
	// being killed. Zero means the package default (120s) applies.
	BashTimeoutSeconds int
}

const defaultOutputCapBytes = 100 * 1024

func (p Policy) outputCap() int {
	if p.OutputCapBytes > 0 {
		return p.OutputCapBytes
	}
	return defaultOutputCapBytes
}

// Executor runs named tool calls against a working directory under a
// policy. It satisfies shimagent.ToolExecutor.
type Executor struct {
	policy Policy
}

var _ shimagent.ToolExecutor = (*Executor)(nil)

// New builds an Executor bound to policy. The same Executor is reused
// across tool calls within and across sessions; it holds no per-call state.
func New(policy Policy) *Executor {
	return &Executor{policy: policy}
}

// Execute dispatches one tool call by name. An unrecognized name is an
// error result, not a panic, since the name originates from model output.
// Every result passes through redaction and the output cap before
// returning, regardless of which operation produced it.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage, cwd string) Result {
	var result Result
	switch name {
	case "Read":
		result = e.read(input, cwd)
	case "Write":
		result = e.write(input, cwd)
	case "Edit":
		result = e.edit(input, cwd)
	case "MultiEdit":
		result = e.multiEdit(input, cwd)
	case "Glob":
		result = e.glob(input, cwd)
	case "Grep":
		result = e.grep(input, cwd)
	case "LS":
		result = e.ls(input, cwd)
	case "Bash":
		result = e.bash(ctx, input, cwd)
	default:
		result = errorResult("unknown tool %q", name)
	}

	redacted, count := redact(result.Content)
	if count > 0 {
		log.Printf("tools: redacted %d secret-shaped value(s) from %s output", count, name)
		result.Content = redacted
	}
	result.Content = truncate(result.Content, e.policy.outputCap())
	return result
}

// truncate applies the policy's output cap, appending a visible marker when
// content was cut.
func truncate(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	return content[:limit] + fmt.Sprintf("\n...[truncated, %d bytes omitted]", len(content)-limit)
}
