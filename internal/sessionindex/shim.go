// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// shimSessionDoc is the on-disk shape of one shim-provider session, under
// <shimSessionsRoot>/<provider>/<sessionId>.json.
type shimSessionDoc struct {
	Provider     string          `json:"provider"`
	SessionID    string          `json:"sessionId"`
	Model        string          `json:"model"`
	ProjectPath  string          `json:"projectPath"`
	Title        string          `json:"title,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Created      time.Time       `json:"created"`
	Updated      time.Time       `json:"updated"`
	Messages     json.RawMessage `json:"messages"`
	TotalTokens  int64           `json:"totalTokens,omitempty"`
	TotalCostUsd float64         `json:"totalCostUsd,omitempty"`
}

// ShimParser recovers index entries from one non-Claude provider's shim
// session documents under <root>/<provider>/<sessionId>.json.
type ShimParser struct {
	provider string
	root     string // the provider's own subdirectory, e.g. <shimSessionsRoot>/gemini
}

// NewShimParser builds a parser for one provider's shim sessions directory.
func NewShimParser(provider, root string) *ShimParser {
	return &ShimParser{provider: provider, root: root}
}

var _ Parser = (*ShimParser)(nil)

func (p *ShimParser) Provider() string { return p.provider }
func (p *ShimParser) Root() string     { return p.root }

func (p *ShimParser) Walk() ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionindex: walk shim root %s: %w", p.root, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		paths = append(paths, filepath.Join(p.root, entry.Name()))
	}
	return paths, nil
}

func (p *ShimParser) ParseFile(path string) (Entry, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, false, err
	}
	if info.Size() == 0 {
		return Entry{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, false, err
	}

	var doc shimSessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Entry{}, false, fmt.Errorf("sessionindex: parse %s: %w", path, err)
	}

	// The provider field must match the directory the file lives in; a
	// mismatch indicates a misplaced or corrupted file and is skipped
	// rather than indexed under the wrong provider.
	if doc.Provider != p.provider {
		return Entry{}, false, nil
	}

	sessionID := doc.SessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	var messages []json.RawMessage
	_ = json.Unmarshal(doc.Messages, &messages)

	title := doc.Title
	if title == "" {
		title = doc.Summary
	}

	return Entry{
		SessionID:    sessionID,
		Provider:     p.provider,
		Model:        doc.Model,
		Title:        sanitizeSummary(title),
		ProjectPath:  doc.ProjectPath,
		MessageCount: len(messages),
		Created:      doc.Created,
		Updated:      doc.Updated,
		FilePath:     path,
		FileSize:     info.Size(),
		TotalTokens:  doc.TotalTokens,
		TotalCost:    doc.TotalCostUsd,
	}, true, nil
}
