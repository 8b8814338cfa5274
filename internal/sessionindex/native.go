// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// nativeLine is one JSONL line from a native `claude` CLI session transcript
// under ~/.claude/projects/<encoded-cwd>/<sessionId>.jsonl.
type nativeLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	CWD       string          `json:"cwd"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type nativeMessageEnvelope struct {
	Role    string              `json:"role"`
	Model   string              `json:"model,omitempty"`
	Content json.RawMessage     `json:"content"`
	Usage   *nativeMessageUsage `json:"usage,omitempty"`
}

type nativeMessageUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// nativeContentBlock covers only the fields the index cares about: text
// (for the fallback-title/summary heuristics) and the title/summary marker
// types the CLI itself may emit as plain-string content.
type nativeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NativeParser recovers index entries from native `claude` CLI JSONL
// session files.
type NativeParser struct {
	root string
}

// NewNativeParser builds a parser rooted at the native Claude CLI projects
// directory (typically ~/.claude/projects).
func NewNativeParser(root string) *NativeParser {
	return &NativeParser{root: root}
}

var _ Parser = (*NativeParser)(nil)

func (p *NativeParser) Provider() string { return "claude" }
func (p *NativeParser) Root() string     { return p.root }

// EncodeProjectDir mirrors the native CLI's directory-naming scheme: path
// separators and dots replaced with `-`, with a leading `-`.
func EncodeProjectDir(projectPath string) string {
	return strings.NewReplacer("/", "-", ".", "-").Replace(projectPath)
}

// Walk lists every session JSONL file under root, skipping subagent
// sessions (filename prefix "agent-") and zero-byte files.
func (p *NativeParser) Walk() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(p.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, "agent-") {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil || info.Size() == 0 {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessionindex: walk native root %s: %w", p.root, err)
	}
	return paths, nil
}

// ParseFile reads one JSONL transcript and reduces it to an Entry.
func (p *NativeParser) ParseFile(path string) (Entry, bool, error) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "agent-") {
		return Entry{}, false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, false, err
	}
	if info.Size() == 0 {
		return Entry{}, false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Entry{}, false, err
	}
	defer f.Close()

	sessionID := strings.TrimSuffix(base, ".jsonl")
	entry := Entry{
		SessionID: sessionID,
		Provider:  p.Provider(),
		FilePath:  path,
		FileSize:  info.Size(),
		Created:   info.ModTime(),
		Updated:   info.ModTime(),
	}

	var (
		firstUserText string
		title         string
		summary       string
		totalTokens   int64
		messageCount  int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line nativeLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // tolerate a partial last line from a crash
		}
		if entry.ProjectPath == "" && line.CWD != "" {
			entry.ProjectPath = line.CWD
		}
		if ts, err := time.Parse(time.RFC3339, line.Timestamp); err == nil {
			entry.Updated = ts
		}

		switch line.Type {
		case "title":
			title = extractText(line.Message)
		case "summary":
			if summary == "" {
				summary = extractText(line.Message)
			}
		case "user", "assistant":
			messageCount++
			var env nativeMessageEnvelope
			if err := json.Unmarshal(line.Message, &env); err == nil {
				if env.Model != "" {
					entry.Model = env.Model
				}
				if env.Usage != nil {
					totalTokens += int64(env.Usage.InputTokens + env.Usage.OutputTokens)
				}
				if line.Type == "user" && firstUserText == "" {
					firstUserText = firstBlockText(env.Content)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Entry{}, false, fmt.Errorf("sessionindex: scan %s: %w", path, err)
	}

	entry.MessageCount = messageCount
	entry.TotalTokens = totalTokens
	entry.ClaudeProjectDir = filepath.Dir(path)

	// Summary preference: explicit title > explicit summary > truncated
	// first user message, per spec §4.5.
	switch {
	case title != "":
		entry.Title = sanitizeSummary(title)
	case summary != "":
		entry.Title = sanitizeSummary(summary)
	default:
		entry.Title = sanitizeSummary(truncateRunes(firstUserText, titleTruncateLen))
	}

	return entry, true, nil
}

// extractText pulls a plain string out of a title/summary marker message,
// which the CLI emits as either a bare JSON string or a {"text": "..."}
// object depending on version.
func extractText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}
	return ""
}

// firstBlockText returns the first text block's content from a message's
// content field, which may be a bare string or a content-block array.
func firstBlockText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []nativeContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// sanitizeSummary HTML-escapes and caps a summary string, per spec §4.5.
func sanitizeSummary(s string) string {
	return truncateRunes(html.EscapeString(strings.TrimSpace(s)), summaryMaxLen)
}
