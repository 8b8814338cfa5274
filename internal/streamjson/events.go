// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package streamjson implements the canonical stream-json protocol: a
// line-delimited JSON event framing parser tolerant of the legacy
// `$`-terminated JSONL dialect, and the canonical event sum type every
// provider adapter and shim translates into.
package streamjson

import (
	"encoding/json"
	"time"
)

// Event type tags. These are the authoritative set from the canonical
// stream-json contract; unrecognized type strings are preserved as KindRaw
// rather than dropped.
const (
	KindSystem      = "system"
	KindText        = "text"
	KindThinking    = "thinking"
	KindToolUse     = "tool_use"
	KindToolResult  = "tool_result"
	KindUsage       = "usage"
	KindResult      = "result"
	KindError       = "error"
	KindInterrupt   = "interrupt"
	KindMessageStop = "message_stop"
	KindAssistant   = "assistant"
	KindUser        = "user"
	KindRaw         = "raw"
)

// system subtypes
const (
	SubtypeInit            = "init"
	SubtypeSessionID       = "session_id"
	SubtypeCompactBoundary = "compact_boundary"
	SubtypeError           = "error"
	SubtypeClear           = "clear"
	SubtypeInfo            = "info"
	SubtypeInterrupted     = "interrupted"
	SubtypeStreamEnd       = "stream_end"
)

// Error codes carried on canonical `error` events.
const (
	ErrCodeFramingOverflow = "framing_overflow"
	ErrCodeSandboxViolation = "sandbox_violation"
)

// ContentBlock is one element of a TurnRecord's content sequence, per
// spec §3. Only the fields relevant to the block's Type are populated;
// the rest are left zero.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Language  string          `json:"language,omitempty"`
	MimeType  string          `json:"mime_type,omitempty"`
	Data      string          `json:"data,omitempty"`
	URL       string          `json:"url,omitempty"`
}

// Usage carries cumulative or per-turn token accounting.
type Usage struct {
	InputTokens              int  `json:"input_tokens,omitempty"`
	OutputTokens             int  `json:"output_tokens,omitempty"`
	CacheReadTokens          int  `json:"cache_read_tokens,omitempty"`
	CacheCreationInputTokens int  `json:"cache_creation_input_tokens,omitempty"`
	Estimated                bool `json:"estimated,omitempty"`
}

// CanonicalEvent is a single line-level protocol item, per spec §3/§4.1.
// Unknown top-level fields from the wire are preserved opaquely in Extra
// rather than dropped, and unknown `type` values are carried as KindRaw
// with the original bytes in Raw.
type CanonicalEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system/init
	SessionID      string   `json:"session_id,omitempty"`
	Model          string   `json:"model,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	Tools          []string `json:"tools,omitempty"`

	// text
	Content string `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`

	// thinking
	Text   string `json:"text,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`

	// tool_use
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID          string          `json:"tool_use_id,omitempty"`
	ToolResultContent  json.RawMessage `json:"result_content,omitempty"`
	IsError            bool            `json:"is_error,omitempty"`

	// usage
	Usage *Usage `json:"usage,omitempty"`

	// result (terminal per turn)
	TotalCostUsd              float64  `json:"total_cost_usd,omitempty"`
	DurationMs                int64    `json:"duration_ms,omitempty"`
	Errors                    []string `json:"errors,omitempty"`
	RequiresCheckpointRestore bool     `json:"requires_checkpoint_restore,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// assistant/user envelopes
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
	ContentBlocks   []ContentBlock  `json:"content_blocks,omitempty"`
	Role            string          `json:"role,omitempty"`

	Timestamp time.Time `json:"-"`

	// Raw holds the original bytes of the line when Type == KindRaw, so a
	// type this broker doesn't know about can still be passed through
	// unchanged to the client.
	Raw json.RawMessage `json:"-"`

	// Extra preserves top-level fields not modeled above, keyed by JSON
	// field name, so a provider-specific addition round-trips instead of
	// being silently dropped.
	Extra map[string]json.RawMessage `json:"-"`
}

// IsTerminal reports whether this event ends a turn (spec §3 invariant d).
func (e CanonicalEvent) IsTerminal() bool {
	return e.Type == KindResult
}

// ToolResultContentString returns the tool_result content as a string,
// regardless of whether the wire payload was a JSON string or object.
func (e CanonicalEvent) ToolResultContentString() string {
	if len(e.ToolResultContent) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.ToolResultContent, &s); err == nil {
		return s
	}
	return string(e.ToolResultContent)
}
