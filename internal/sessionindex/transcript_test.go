// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTranscript_Native(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess1.jsonl")
	content := `{"type":"user","sessionId":"sess1","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}
{"type":"assistant","sessionId":"sess1","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"hi there"}]}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	messages, err := LoadTranscript("claude", path)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestLoadTranscript_Shim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess2.json")
	content := `{
		"provider": "gemini",
		"sessionId": "sess2",
		"messages": [
			{"role": "user", "content": [{"type":"text","text":"hello"}]},
			{"role": "assistant", "content": [{"type":"text","text":"hi"}]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	messages, err := LoadTranscript("gemini", path)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestLoadTranscript_NativeSkipsNonMessageLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess3.jsonl")
	content := `{"type":"title","sessionId":"sess3","message":"My session"}
{"type":"user","sessionId":"sess3","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"hello"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	messages, err := LoadTranscript("claude", path)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
}
