// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/config"
	"github.com/wingedpig/agentbroker/internal/shimagent"
	"github.com/wingedpig/agentbroker/internal/streamjson"
)

func TestCompletionToResponse_TextOnly(t *testing.T) {
	resp := completionToResponse(completionLine{Text: "hello there"})
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, streamjson.KindText, resp.Blocks[0].Type)
	assert.Nil(t, resp.Usage)
}

func TestCompletionToResponse_ThinkingAndToolCalls(t *testing.T) {
	line := completionLine{
		Thinking: "considering options",
		ToolCalls: []completionToolCall{
			{ID: "call_1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
		},
		InputTokens:  10,
		OutputTokens: 5,
	}
	resp := completionToResponse(line)
	require.Len(t, resp.Blocks, 2)
	assert.Equal(t, streamjson.KindThinking, resp.Blocks[0].Type)
	assert.Equal(t, streamjson.KindToolUse, resp.Blocks[1].Type)
	assert.Equal(t, "call_1", resp.Blocks[1].ID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestAdapter_BuildArgv_EncodesNonInteractiveFlags(t *testing.T) {
	a := New(config.ProviderConfig{Name: "gemini", Binary: "gemini-cli", Args: []string{"--quiet"}}, Config{})
	argv, env, err := a.BuildArgv(broker.SpawnSpec{SessionID: "s1", Prompt: "do the thing"})
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.Equal(t, []string{"gemini-cli", "--quiet", "--non-interactive", "--json"}, argv)
}

func TestAdapter_SendTurn_WritesPromptAsUserMessage(t *testing.T) {
	a := New(config.ProviderConfig{Name: "gemini", Model: "gemini-pro"}, Config{})
	var buf bytes.Buffer
	err := a.SendTurn(&buf, broker.SpawnSpec{Model: "gemini-pro", Prompt: "fix the bug"})
	require.NoError(t, err)

	var req requestEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &req))
	assert.Equal(t, "gemini-pro", req.Model)
	require.Len(t, req.History, 1)
	assert.Equal(t, "user", req.History[0].Role)
	require.Len(t, req.History[0].Content, 1)
	assert.Equal(t, `"fix the bug"`, string(req.History[0].Content[0].Content))
}

// recordingExecutor returns a fixed result for every tool call and counts
// how many times it was invoked.
type recordingExecutor struct {
	result shimagent.ToolResult
	calls  int
}

func (e *recordingExecutor) Execute(_ context.Context, _ string, _ json.RawMessage, _ string) shimagent.ToolResult {
	e.calls++
	return e.result
}

func TestTurnRunner_Translate_DrivesLoopFromFirstLine(t *testing.T) {
	executor := &recordingExecutor{result: shimagent.ToolResult{Content: "ok"}}
	a := New(config.ProviderConfig{Name: "gemini"}, Config{
		Executor:    executor,
		DefaultMode: shimagent.PermissionAuto,
	})

	runner := a.NewLineTranslator(broker.SpawnSpec{SessionID: "s1", Prompt: "say hi", CWD: "/work"})
	tr, ok := runner.(*turnRunner)
	require.True(t, ok)

	// A text-only first completion lets the loop finish after one
	// iteration, without the second round falling back to a real
	// subprocess spawn.
	first := completionLine{Text: "hi there"}
	firstLine, err := json.Marshal(first)
	require.NoError(t, err)

	events, err := tr.Translate(string(firstLine))
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Equal(t, 0, executor.calls)
	assert.True(t, tr.done)
}

func TestTurnRunner_Translate_IgnoresLinesAfterFirst(t *testing.T) {
	a := New(config.ProviderConfig{Name: "gemini"}, Config{})
	runner := a.NewLineTranslator(broker.SpawnSpec{SessionID: "s1", Prompt: "hi"})
	tr := runner.(*turnRunner)
	tr.done = true

	events, err := tr.Translate(`{"text":"should be ignored"}`)
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestTurnRunner_Translate_PropagatesCompletionError(t *testing.T) {
	a := New(config.ProviderConfig{Name: "gemini"}, Config{})
	runner := a.NewLineTranslator(broker.SpawnSpec{SessionID: "s1", Prompt: "hi"})

	line, err := json.Marshal(completionLine{Error: "provider refused"})
	require.NoError(t, err)

	_, err = runner.Translate(string(line))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider refused")
}
