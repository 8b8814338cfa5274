// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package shimagent implements Mode B of the translation shim
// (ShimAgentLoop, C7): a Think → Act → Observe loop the broker itself
// drives when the upstream provider is a non-agentic LLM rather than an
// agentic CLI. The loop is expressed as an explicit state machine over
// (history, pendingToolCalls, approvalLatch) so every suspension point —
// provider I/O, approval, a single tool call — is a visible step rather
// than goroutine-and-channel plumbing.
package shimagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// Message is one entry in the loop's conversation history.
type Message struct {
	Role    string // "user", "assistant", "tool"
	Content []streamjson.ContentBlock
}

// ToolSpec describes one tool available to the provider, for inclusion in
// the generation request.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Response is what Generator returns for one Think step.
type Response struct {
	Blocks []streamjson.ContentBlock // text/thinking/tool_use, in emission order
	Usage  *streamjson.Usage         // nil if the provider didn't report usage
}

// Generator drives the non-agentic LLM: one call per loop iteration.
type Generator interface {
	Generate(ctx context.Context, history []Message, tools []ToolSpec) (Response, error)
}

// ToolResult is what a ToolExecutor call returns, per spec: a pure function
// of (input, cwd, policy) returning {content, isError}.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolExecutor runs one named tool call. Implementations own their own
// sandbox/redaction policy; the loop only supplies name, input, and cwd.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input json.RawMessage, cwd string) ToolResult
}

// PermissionMode gates whether a tool call needs explicit approval before
// running.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAuto        PermissionMode = "auto"
	PermissionInteractive PermissionMode = "interactive"
	PermissionDeny        PermissionMode = "deny"
)

// EffectiveMode resolves "default" to "auto" per spec §4.4.
func (m PermissionMode) EffectiveMode() PermissionMode {
	if m == PermissionDefault {
		return PermissionAuto
	}
	return m
}

// ErrMaxIterations is returned when the loop exhausts its iteration budget
// without the provider producing a tool-call-free response.
var ErrMaxIterations = fmt.Errorf("shimagent: max iterations reached without completion")

// Loop runs one session's Think → Act → Observe cycle.
type Loop struct {
	generator    Generator
	tools        ToolExecutor
	approvals    ApprovalGate
	maxIterations int
}

// Config configures a Loop.
type Config struct {
	Generator     Generator
	Tools         ToolExecutor
	Approvals     ApprovalGate // may be nil if permissionMode will never be interactive
	MaxIterations int          // default 50
}

// New builds a Loop from cfg.
func New(cfg Config) *Loop {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 50
	}
	return &Loop{
		generator:     cfg.Generator,
		tools:         cfg.Tools,
		approvals:     cfg.Approvals,
		maxIterations: maxIter,
	}
}

// EmitFunc receives each canonical event the loop produces, in order,
// including the terminal usage/result/message_stop triple.
type EmitFunc func(streamjson.CanonicalEvent)

// Run drives the loop for one user turn, given the session's prior history,
// a toolset, cwd, and permission mode, emitting canonical events as they're
// produced. It returns the updated history (for the caller to persist) or
// an error if the provider or the iteration budget was exhausted.
func (l *Loop) Run(ctx context.Context, history []Message, userContent string, cwd string, toolDefs []ToolSpec, mode PermissionMode, emit EmitFunc) ([]Message, error) {
	history = append(history, Message{
		Role:    "user",
		Content: []streamjson.ContentBlock{{Type: "text", Text: userContent}},
	})

	var totalUsage streamjson.Usage
	var sawUsage bool

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		resp, err := l.generator.Generate(ctx, history, toolDefs)
		if err != nil {
			return history, fmt.Errorf("shimagent: generate (iteration %d): %w", iteration, err)
		}
		if resp.Usage != nil {
			sawUsage = true
			totalUsage.InputTokens += resp.Usage.InputTokens
			totalUsage.OutputTokens += resp.Usage.OutputTokens
			totalUsage.CacheReadTokens += resp.Usage.CacheReadTokens
			totalUsage.CacheCreationInputTokens += resp.Usage.CacheCreationInputTokens
		}

		pendingToolCalls := emitAssistantBlocks(resp.Blocks, emit)
		history = append(history, Message{Role: "assistant", Content: resp.Blocks})

		if len(pendingToolCalls) == 0 {
			emitTerminal(emit, totalUsage, sawUsage, false)
			return history, nil
		}

		// Serialized, in the order the provider returned them: this is a
		// correctness requirement, not a throughput optimization — it
		// preserves idempotency of edit sequences against the same file.
		for _, tc := range pendingToolCalls {
			result, err := l.runOne(ctx, tc, cwd, mode, emit)
			if err != nil {
				return history, err
			}
			contentJSON, _ := json.Marshal(result.Content)
			history = append(history, Message{
				Role: "tool",
				Content: []streamjson.ContentBlock{{
					Type:      streamjson.KindToolResult,
					ToolUseID: tc.ID,
					Content:   contentJSON,
					IsError:   result.IsError,
				}},
			})
		}
	}

	return history, ErrMaxIterations
}

// runOne executes a single tool call, awaiting approval first when
// permissionMode is interactive.
func (l *Loop) runOne(ctx context.Context, tc streamjson.ContentBlock, cwd string, mode PermissionMode, emit EmitFunc) (ToolResult, error) {
	effective := mode.EffectiveMode()

	if effective == PermissionDeny {
		result := ToolResult{Content: "tool execution denied by policy", IsError: true}
		emitToolResult(emit, tc.ID, result)
		return result, nil
	}

	if effective == PermissionInteractive {
		if l.approvals == nil {
			return ToolResult{}, fmt.Errorf("shimagent: interactive permission mode requires an ApprovalGate")
		}
		decision, err := l.approvals.Await(ctx, tc.ID)
		if err != nil {
			return ToolResult{}, fmt.Errorf("shimagent: awaiting approval for %s: %w", tc.ID, err)
		}
		if decision == ApprovalDeny {
			result := ToolResult{Content: "tool call denied by operator", IsError: true}
			emitToolResult(emit, tc.ID, result)
			return result, nil
		}
	}

	result := l.tools.Execute(ctx, tc.Name, tc.Input, cwd)
	emitToolResult(emit, tc.ID, result)
	return result, nil
}

// emitAssistantBlocks delivers canonical text/thinking/tool_use events for
// one Think step's blocks and returns the tool_use blocks in order.
func emitAssistantBlocks(blocks []streamjson.ContentBlock, emit EmitFunc) []streamjson.ContentBlock {
	var toolCalls []streamjson.ContentBlock
	for _, b := range blocks {
		switch b.Type {
		case "text":
			emit(streamjson.CanonicalEvent{Type: streamjson.KindText, Content: b.Text})
		case "thinking":
			emit(streamjson.CanonicalEvent{Type: streamjson.KindThinking, Text: b.Text})
		case streamjson.KindToolUse:
			emit(streamjson.CanonicalEvent{Type: streamjson.KindToolUse, ID: b.ID, Name: b.Name, Input: b.Input})
			toolCalls = append(toolCalls, b)
		}
	}
	return toolCalls
}

func emitToolResult(emit EmitFunc, toolUseID string, result ToolResult) {
	content, _ := json.Marshal(result.Content)
	emit(streamjson.CanonicalEvent{
		Type:              streamjson.KindToolResult,
		ToolUseID:         toolUseID,
		ToolResultContent: content,
		IsError:           result.IsError,
	})
}

func emitTerminal(emit EmitFunc, usage streamjson.Usage, sawUsage bool, isError bool) {
	if !sawUsage {
		usage.Estimated = true
	}
	emit(streamjson.CanonicalEvent{Type: streamjson.KindUsage, Usage: &usage})
	emit(streamjson.CanonicalEvent{Type: streamjson.KindResult, IsError: isError})
	emit(streamjson.CanonicalEvent{Type: streamjson.KindMessageStop})
}
