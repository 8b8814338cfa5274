// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package shimagent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// scriptedGenerator returns one canned Response per call, in order.
type scriptedGenerator struct {
	responses []Response
	calls     int
}

func (g *scriptedGenerator) Generate(ctx context.Context, history []Message, tools []ToolSpec) (Response, error) {
	resp := g.responses[g.calls]
	g.calls++
	return resp, nil
}

// recordingExecutor returns a fixed result for every tool call and records
// the order it was invoked in.
type recordingExecutor struct {
	result ToolResult
	order  []string
}

func (e *recordingExecutor) Execute(ctx context.Context, name string, input json.RawMessage, cwd string) ToolResult {
	e.order = append(e.order, name)
	return e.result
}

// alwaysAllowGate never blocks.
type alwaysAllowGate struct{}

func (alwaysAllowGate) Await(ctx context.Context, toolUseID string) (ApprovalDecision, error) {
	return ApprovalAllow, nil
}
func (alwaysAllowGate) Resolve(toolUseID string, decision ApprovalDecision) {}

// alwaysDenyGate always denies.
type alwaysDenyGate struct{}

func (alwaysDenyGate) Await(ctx context.Context, toolUseID string) (ApprovalDecision, error) {
	return ApprovalDeny, nil
}
func (alwaysDenyGate) Resolve(toolUseID string, decision ApprovalDecision) {}

func collectEvents(evs *[]streamjson.CanonicalEvent) EmitFunc {
	return func(ev streamjson.CanonicalEvent) { *evs = append(*evs, ev) }
}

func TestLoop_TextOnlyResponse_NoToolCalls(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{{Type: "text", Text: "hello there"}}},
	}}
	exec := &recordingExecutor{}
	l := New(Config{Generator: gen, Tools: exec})

	var events []streamjson.CanonicalEvent
	history, err := l.Run(context.Background(), nil, "hi", "/tmp", nil, PermissionAuto, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, exec.order)

	require.Len(t, events, 4) // text, usage, result, message_stop
	assert.Equal(t, streamjson.KindText, events[0].Type)
	assert.Equal(t, "hello there", events[0].Content)
	assert.Equal(t, streamjson.KindUsage, events[1].Type)
	assert.True(t, events[1].Usage.Estimated)
	assert.Equal(t, streamjson.KindResult, events[2].Type)
	assert.False(t, events[2].IsError)
	assert.Equal(t, streamjson.KindMessageStop, events[3].Type)

	// history: user + assistant
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestLoop_SerializesMultipleToolCallsInOrder(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{
			{Type: streamjson.KindToolUse, ID: "toolu_1", Name: "Read", Input: json.RawMessage(`{"path":"a"}`)},
			{Type: streamjson.KindToolUse, ID: "toolu_2", Name: "Write", Input: json.RawMessage(`{"path":"b"}`)},
			{Type: streamjson.KindToolUse, ID: "toolu_3", Name: "Edit", Input: json.RawMessage(`{"path":"a"}`)},
		}},
		{Blocks: []streamjson.ContentBlock{{Type: "text", Text: "done"}}},
	}}
	exec := &recordingExecutor{result: ToolResult{Content: "ok"}}
	l := New(Config{Generator: gen, Tools: exec})

	var events []streamjson.CanonicalEvent
	_, err := l.Run(context.Background(), nil, "edit the file", "/tmp", nil, PermissionAuto, collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, []string{"Read", "Write", "Edit"}, exec.order)
	assert.Equal(t, 2, gen.calls)

	var toolUseCount, toolResultCount int
	for _, ev := range events {
		switch ev.Type {
		case streamjson.KindToolUse:
			toolUseCount++
		case streamjson.KindToolResult:
			toolResultCount++
		}
	}
	assert.Equal(t, 3, toolUseCount)
	assert.Equal(t, 3, toolResultCount)
}

func TestLoop_InteractiveMode_DenyShortCircuitsExecution(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{
			{Type: streamjson.KindToolUse, ID: "toolu_1", Name: "Bash", Input: json.RawMessage(`{"command":"rm -rf /"}`)},
		}},
		{Blocks: []streamjson.ContentBlock{{Type: "text", Text: "ok, skipped"}}},
	}}
	exec := &recordingExecutor{result: ToolResult{Content: "should never run"}}
	l := New(Config{Generator: gen, Tools: exec, Approvals: alwaysDenyGate{}})

	var events []streamjson.CanonicalEvent
	_, err := l.Run(context.Background(), nil, "delete everything", "/tmp", nil, PermissionInteractive, collectEvents(&events))
	require.NoError(t, err)

	assert.Empty(t, exec.order, "tool must not run when approval is denied")

	var found bool
	for _, ev := range events {
		if ev.Type == streamjson.KindToolResult {
			found = true
			assert.True(t, ev.IsError)
		}
	}
	assert.True(t, found, "expected a tool_result event for the denied call")
}

func TestLoop_InteractiveMode_AllowRunsTool(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{
			{Type: streamjson.KindToolUse, ID: "toolu_1", Name: "Read", Input: json.RawMessage(`{}`)},
		}},
		{Blocks: []streamjson.ContentBlock{{Type: "text", Text: "done"}}},
	}}
	exec := &recordingExecutor{result: ToolResult{Content: "file contents"}}
	l := New(Config{Generator: gen, Tools: exec, Approvals: alwaysAllowGate{}})

	_, err := l.Run(context.Background(), nil, "read the file", "/tmp", nil, PermissionInteractive, func(streamjson.CanonicalEvent) {})
	require.NoError(t, err)

	assert.Equal(t, []string{"Read"}, exec.order)
}

func TestLoop_InteractiveModeWithoutGate_Errors(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{{Type: streamjson.KindToolUse, ID: "toolu_1", Name: "Read"}}},
	}}
	exec := &recordingExecutor{result: ToolResult{Content: "x"}}
	l := New(Config{Generator: gen, Tools: exec})

	_, err := l.Run(context.Background(), nil, "read", "/tmp", nil, PermissionInteractive, func(streamjson.CanonicalEvent) {})
	assert.Error(t, err)
}

func TestLoop_DenyPolicyWithoutGate_StillShortCircuits(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{{Type: streamjson.KindToolUse, ID: "toolu_1", Name: "Bash"}}},
		{Blocks: []streamjson.ContentBlock{{Type: "text", Text: "done"}}},
	}}
	exec := &recordingExecutor{result: ToolResult{Content: "should not run"}}
	l := New(Config{Generator: gen, Tools: exec})

	_, err := l.Run(context.Background(), nil, "run something", "/tmp", nil, PermissionDeny, func(streamjson.CanonicalEvent) {})
	require.NoError(t, err)
	assert.Empty(t, exec.order)
}

func TestLoop_DefaultPermissionResolvesToAuto(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{Blocks: []streamjson.ContentBlock{{Type: streamjson.KindToolUse, ID: "toolu_1", Name: "Read"}}},
		{Blocks: []streamjson.ContentBlock{{Type: "text", Text: "done"}}},
	}}
	exec := &recordingExecutor{result: ToolResult{Content: "contents"}}
	l := New(Config{Generator: gen, Tools: exec})

	_, err := l.Run(context.Background(), nil, "read", "/tmp", nil, PermissionDefault, func(streamjson.CanonicalEvent) {})
	require.NoError(t, err)
	assert.Equal(t, []string{"Read"}, exec.order)
}

func TestLoop_RealUsageSuppressesEstimate(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{
		{
			Blocks: []streamjson.ContentBlock{{Type: "text", Text: "hi"}},
			Usage:  &streamjson.Usage{InputTokens: 5, OutputTokens: 7},
		},
	}}
	l := New(Config{Generator: gen, Tools: &recordingExecutor{}})

	var events []streamjson.CanonicalEvent
	_, err := l.Run(context.Background(), nil, "hi", "/tmp", nil, PermissionAuto, collectEvents(&events))
	require.NoError(t, err)

	for _, ev := range events {
		if ev.Type == streamjson.KindUsage {
			assert.False(t, ev.Usage.Estimated)
			assert.Equal(t, 5, ev.Usage.InputTokens)
			assert.Equal(t, 7, ev.Usage.OutputTokens)
		}
	}
}

func TestLoop_MaxIterationsExhausted(t *testing.T) {
	responses := make([]Response, 3)
	for i := range responses {
		responses[i] = Response{Blocks: []streamjson.ContentBlock{
			{Type: streamjson.KindToolUse, ID: "toolu_loop", Name: "Read"},
		}}
	}
	gen := &scriptedGenerator{responses: responses}
	l := New(Config{Generator: gen, Tools: &recordingExecutor{result: ToolResult{Content: "x"}}, MaxIterations: 3})

	_, err := l.Run(context.Background(), nil, "loop forever", "/tmp", nil, PermissionAuto, func(streamjson.CanonicalEvent) {})
	assert.ErrorIs(t, err, ErrMaxIterations)
}

func TestChannelApprovalGate_ResolveUnblocksAwait(t *testing.T) {
	gate := NewChannelApprovalGate()
	result := make(chan ApprovalDecision, 1)
	go func() {
		decision, err := gate.Await(context.Background(), "toolu_9")
		require.NoError(t, err)
		result <- decision
	}()

	// Resolve drops a decision nobody is waiting on, so wait until Await
	// has registered its channel.
	require.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		_, ok := gate.pending["toolu_9"]
		return ok
	}, time.Second, time.Millisecond)

	gate.Resolve("toolu_9", ApprovalAllow)
	assert.Equal(t, ApprovalAllow, <-result)
}

func TestChannelApprovalGate_ContextCancel(t *testing.T) {
	gate := NewChannelApprovalGate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gate.Await(ctx, "toolu_cancelled")
	assert.Error(t, err)
}
