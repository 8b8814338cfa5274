// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Read(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Read", mustJSON(t, readInput{FilePath: "a.txt"}), dir)
	assert.False(t, result.IsError)
	assert.Equal(t, "line1\nline2\nline3\n", result.Content)
}

func TestExecutor_Read_OffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("l1\nl2\nl3\nl4\nl5\n"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Read", mustJSON(t, readInput{FilePath: "a.txt", Offset: 2, Limit: 2}), dir)
	assert.False(t, result.IsError)
	assert.Equal(t, "l2\nl3\n", result.Content)
}

func TestExecutor_Read_RejectsPathOutsideSandbox(t *testing.T) {
	dir := t.TempDir()
	e := New(Policy{})
	result := e.Execute(context.Background(), "Read", mustJSON(t, readInput{FilePath: "/etc/shadow"}), dir)
	assert.True(t, result.IsError)
}

func TestExecutor_Write_Overwrites(t *testing.T) {
	dir := t.TempDir()
	e := New(Policy{})
	result := e.Execute(context.Background(), "Write", mustJSON(t, writeInput{FilePath: "out.txt", Content: "hello"}), dir)
	require.False(t, result.IsError)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExecutor_Edit_SingleOccurrence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo bar baz"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Edit", mustJSON(t, editInput{FilePath: "a.txt", OldString: "bar", NewString: "qux"}), dir)
	require.False(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo qux baz", string(data))
}

func TestExecutor_Edit_ZeroMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo bar baz"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Edit", mustJSON(t, editInput{FilePath: "a.txt", OldString: "nope", NewString: "x"}), dir)
	assert.True(t, result.IsError)
}

func TestExecutor_Edit_MultipleMatchesWithoutReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo foo"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Edit", mustJSON(t, editInput{FilePath: "a.txt", OldString: "foo", NewString: "bar"}), dir)
	assert.True(t, result.IsError)
}

func TestExecutor_Edit_ReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo foo"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Edit", mustJSON(t, editInput{FilePath: "a.txt", OldString: "foo", NewString: "bar", ReplaceAll: true}), dir)
	require.False(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bar bar bar", string(data))
}

func TestExecutor_MultiEdit_AllOrNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo bar baz"), 0o644))

	e := New(Policy{})
	in := multiEditInput{
		FilePath: "a.txt",
		Edits: []multiEditOp{
			{OldString: "foo", NewString: "FOO"},
			{OldString: "missing", NewString: "x"},
		},
	}
	result := e.Execute(context.Background(), "MultiEdit", mustJSON(t, in), dir)
	assert.True(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo bar baz", string(data), "file must be untouched when any edit in the batch fails")
}

func TestExecutor_MultiEdit_AppliesAllOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo bar baz"), 0o644))

	e := New(Policy{})
	in := multiEditInput{
		FilePath: "a.txt",
		Edits: []multiEditOp{
			{OldString: "foo", NewString: "FOO"},
			{OldString: "baz", NewString: "BAZ"},
		},
	}
	result := e.Execute(context.Background(), "MultiEdit", mustJSON(t, in), dir)
	require.False(t, result.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "FOO bar BAZ", string(data))
}

func TestExecutor_Glob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Glob", mustJSON(t, globInput{Pattern: "*.go"}), dir)
	require.False(t, result.IsError)
	assert.Equal(t, "a.go", result.Content)
}

func TestExecutor_Grep(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\nworld\nhello world\n"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Grep", mustJSON(t, grepInput{Pattern: "hello"}), dir)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content, "a.txt:1:hello")
	assert.Contains(t, result.Content, "a.txt:3:hello world")
}

func TestExecutor_LS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "LS", json.RawMessage(`{}`), dir)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content, "a.txt")
	assert.Contains(t, result.Content, "sub/")
}

func TestExecutor_Bash_CapturesOutput(t *testing.T) {
	e := New(Policy{})
	result := e.Execute(context.Background(), "Bash", mustJSON(t, bashInput{Command: "echo hi"}), t.TempDir())
	require.False(t, result.IsError)
	assert.Contains(t, result.Content, "hi")
}

func TestExecutor_Bash_NonZeroExitIsError(t *testing.T) {
	e := New(Policy{})
	result := e.Execute(context.Background(), "Bash", mustJSON(t, bashInput{Command: "exit 1"}), t.TempDir())
	assert.True(t, result.IsError)
}

func TestExecutor_Bash_DangerousCommandWarnsButRuns(t *testing.T) {
	e := New(Policy{})
	result := e.Execute(context.Background(), "Bash", mustJSON(t, bashInput{Command: "echo sudo rm -rf /tmp/nonexistent-path-xyz"}), t.TempDir())
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content, "warning:")
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := New(Policy{})
	result := e.Execute(context.Background(), "Frobnicate", json.RawMessage(`{}`), t.TempDir())
	assert.True(t, result.IsError)
}

func TestExecutor_RedactsSecretsInOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("key=sk-ant-REDACTED"), 0o644))

	e := New(Policy{})
	result := e.Execute(context.Background(), "Read", mustJSON(t, readInput{FilePath: "a.txt"}), dir)
	require.False(t, result.IsError)
	assert.NotContains(t, result.Content, "abcdefghijklmnopqrstuvwxyz123456")
	assert.Contains(t, result.Content, "[REDACTED:")
}

func TestExecutor_TruncatesOversizedOutput(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 200)
	for i := range big {
		big[i] = "x "[i%2] // spaces keep it from matching the long-token redaction pattern
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), big, 0o644))

	e := New(Policy{OutputCapBytes: 50})
	result := e.Execute(context.Background(), "Read", mustJSON(t, readInput{FilePath: "big.txt"}), dir)
	assert.Contains(t, result.Content, "truncated")
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
