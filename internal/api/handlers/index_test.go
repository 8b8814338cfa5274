// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/agentbroker/internal/sessionindex"
)

func newTestIndex(t *testing.T) (*sessionindex.Index, string) {
	t.Helper()
	root := t.TempDir()

	sessionPath := filepath.Join(root, "sess-1.jsonl")
	lines := []string{
		`{"type":"user","sessionId":"sess-1","cwd":"/work/proj","timestamp":"2026-07-30T10:00:00Z","message":{"role":"user","content":"hello"}}`,
		`{"type":"assistant","sessionId":"sess-1","cwd":"/work/proj","timestamp":"2026-07-30T10:00:01Z","message":{"role":"assistant","model":"claude-opus","content":[{"type":"text","text":"hi there"}]}}`,
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(sessionPath, []byte(content), 0o644))

	idxPath := filepath.Join(root, "index.json")
	idx, err := sessionindex.New(idxPath, sessionindex.NewNativeParser(root))
	require.NoError(t, err)
	require.NoError(t, idx.Rebuild(context.Background()))

	return idx, sessionPath
}

func TestIndexHandler_ListProjects(t *testing.T) {
	idx, _ := newTestIndex(t)
	h := NewIndexHandler(idx)

	req := httptest.NewRequest("GET", "/api/v1/projects", nil)
	rec := httptest.NewRecorder()
	h.ListProjects(rec, req)

	assert.Equal(t, 200, rec.Code)

	var projects []projectSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, 1, projects[0].Sessions)
}

func TestIndexHandler_ListProjectSessions(t *testing.T) {
	idx, _ := newTestIndex(t)
	h := NewIndexHandler(idx)

	req := httptest.NewRequest("GET", "/api/v1/projects/%2Fwork%2Fproj/sessions", nil)
	req = mux.SetURLVars(req, map[string]string{"projectPath": "/work/proj"})
	rec := httptest.NewRecorder()
	h.ListProjectSessions(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestIndexHandler_LoadSession_NotFound(t *testing.T) {
	idx, _ := newTestIndex(t)
	h := NewIndexHandler(idx)

	req := httptest.NewRequest("GET", "/api/v1/sessions/unknown/transcript", nil)
	req = mux.SetURLVars(req, map[string]string{"sessionId": "unknown"})
	rec := httptest.NewRecorder()
	h.LoadSession(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestIndexHandler_LoadSession_Found(t *testing.T) {
	idx, _ := newTestIndex(t)
	h := NewIndexHandler(idx)

	req := httptest.NewRequest("GET", "/api/v1/sessions/sess-1/transcript", nil)
	req = mux.SetURLVars(req, map[string]string{"sessionId": "sess-1"})
	rec := httptest.NewRecorder()
	h.LoadSession(rec, req)

	assert.Equal(t, 200, rec.Code)

	var resp loadSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.Entry.SessionID)
	assert.Len(t, resp.Messages, 2)
}

func TestIndexHandler_Analytics(t *testing.T) {
	idx, _ := newTestIndex(t)
	h := NewIndexHandler(idx)

	req := httptest.NewRequest("GET", "/api/v1/analytics", nil)
	rec := httptest.NewRecorder()
	h.Analytics(rec, req)

	assert.Equal(t, 200, rec.Code)

	var resp analyticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalSessions)
}

func TestFilterFromQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/sessions?provider=claude&limit=5&offset=10", nil)
	filter := filterFromQuery(req)

	assert.Equal(t, "claude", filter.Provider)
	assert.Equal(t, 5, filter.Limit)
	assert.Equal(t, 10, filter.Offset)
}
