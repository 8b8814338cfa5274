// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/agentbroker/internal/sessionindex"
)

// IndexHandler exposes SessionIndex reads and maintenance over HTTP:
// project/session listing, full transcript loading, a rate-limited
// rebuild trigger, and a coarse analytics rollup.
type IndexHandler struct {
	index *sessionindex.Index
}

// NewIndexHandler builds an IndexHandler over idx.
func NewIndexHandler(idx *sessionindex.Index) *IndexHandler {
	return &IndexHandler{index: idx}
}

// projectSummary is one entry of the listProjects response: a project path,
// how many sessions are recorded against it, and when the most recently
// updated of them was last updated.
type projectSummary struct {
	ProjectPath string    `json:"projectPath"`
	Sessions    int       `json:"sessionCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ListProjects handles GET /api/v1/projects: every distinct project path
// across all providers, most-recently-active first.
func (h *IndexHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	entries := h.index.Listing(sessionindex.Filter{})

	byPath := make(map[string]*projectSummary)
	for _, e := range entries {
		p, ok := byPath[e.ProjectPath]
		if !ok {
			p = &projectSummary{ProjectPath: e.ProjectPath}
			byPath[e.ProjectPath] = p
		}
		p.Sessions++
		if e.Updated.After(p.LastUpdated) {
			p.LastUpdated = e.Updated
		}
	}

	projects := make([]projectSummary, 0, len(byPath))
	for _, p := range byPath {
		projects = append(projects, *p)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastUpdated.After(projects[j].LastUpdated)
	})

	WriteJSON(w, http.StatusOK, projects)
}

// ListProjectSessions handles GET /api/v1/projects/{projectPath}/sessions.
func (h *IndexHandler) ListProjectSessions(w http.ResponseWriter, r *http.Request) {
	projectPath := mux.Vars(r)["projectPath"]
	filter := filterFromQuery(r)
	filter.ProjectPath = projectPath
	WriteJSON(w, http.StatusOK, h.index.Listing(filter))
}

// ListRecentConversations handles GET /api/v1/sessions: the global, optionally
// provider-filtered, paginated listing across every project.
func (h *IndexHandler) ListRecentConversations(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.index.Listing(filterFromQuery(r)))
}

// ListClaudeConversations handles GET /api/v1/claude/sessions: a legacy
// alias for the native-Claude-only slice of the session index.
func (h *IndexHandler) ListClaudeConversations(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	filter.Provider = "claude"
	WriteJSON(w, http.StatusOK, h.index.Listing(filter))
}

func filterFromQuery(r *http.Request) sessionindex.Filter {
	q := r.URL.Query()
	filter := sessionindex.Filter{
		Provider:    q.Get("provider"),
		ProjectPath: q.Get("projectPath"),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		filter.Offset = n
	}
	return filter
}

// loadSessionResponse is the loadSession operation's response body: the
// entry's summary metadata plus its full message history.
type loadSessionResponse struct {
	Entry    sessionindex.Entry               `json:"entry"`
	Messages []sessionindex.TranscriptMessage `json:"messages"`
}

// LoadSession handles GET /api/v1/sessions/{sessionId}/transcript.
func (h *IndexHandler) LoadSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	entries := h.index.Listing(sessionindex.Filter{})
	var entry sessionindex.Entry
	found := false
	for _, e := range entries {
		if e.SessionID == sessionID {
			entry = e
			found = true
			break
		}
	}
	if !found {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found in index")
		return
	}

	messages, err := sessionindex.LoadTranscript(entry.Provider, entry.FilePath)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, loadSessionResponse{Entry: entry, Messages: messages})
}

// Rebuild handles POST /api/v1/index/rebuild. Rebuild itself is rate
// limited (at most once a minute) by the index, so a burst of requests is
// harmless; each one either triggers or no-ops depending on recency.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.index.Rebuild(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// analyticsResponse is the analytics operation's response body: coarse
// aggregates over the whole index.
type analyticsResponse struct {
	TotalSessions int            `json:"totalSessions"`
	TotalTokens   int64          `json:"totalTokens"`
	TotalCostUsd  float64        `json:"totalCostUsd"`
	ByProvider    map[string]int `json:"byProvider"`
}

// Analytics handles GET /api/v1/analytics.
func (h *IndexHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	entries := h.index.Listing(sessionindex.Filter{})

	resp := analyticsResponse{ByProvider: make(map[string]int)}
	for _, e := range entries {
		resp.TotalSessions++
		resp.TotalTokens += e.TotalTokens
		resp.TotalCostUsd += e.TotalCost
		resp.ByProvider[e.Provider]++
	}

	WriteJSON(w, http.StatusOK, resp)
}
