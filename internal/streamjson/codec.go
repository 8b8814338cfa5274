// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package streamjson

import (
	"encoding/json"
)

// knownFields lists the JSON keys CanonicalEvent models explicitly; any
// other top-level key found on the wire is preserved in Extra instead of
// being dropped, per spec §4.1's validation rules.
var knownFields = map[string]struct{}{
	"type": {}, "subtype": {}, "session_id": {}, "model": {}, "cwd": {},
	"permission_mode": {}, "tools": {}, "content": {}, "id": {}, "text": {},
	"hidden": {}, "name": {}, "input": {}, "tool_use_id": {}, "result_content": {},
	"is_error": {}, "usage": {}, "total_cost_usd": {}, "duration_ms": {},
	"errors": {}, "requires_checkpoint_restore": {}, "message": {}, "code": {},
	"parent_tool_use_id": {}, "content_blocks": {}, "role": {},
}

// shadowEvent mirrors CanonicalEvent's JSON-tagged fields for (de)serialization
// without recursing through the custom Marshal/UnmarshalJSON methods below.
type shadowEvent struct {
	Type                      string          `json:"type"`
	Subtype                   string          `json:"subtype,omitempty"`
	SessionID                 string          `json:"session_id,omitempty"`
	Model                     string          `json:"model,omitempty"`
	CWD                       string          `json:"cwd,omitempty"`
	PermissionMode            string          `json:"permission_mode,omitempty"`
	Tools                     []string        `json:"tools,omitempty"`
	Content                   string          `json:"content,omitempty"`
	ID                        string          `json:"id,omitempty"`
	Text                      string          `json:"text,omitempty"`
	Hidden                    bool            `json:"hidden,omitempty"`
	Name                      string          `json:"name,omitempty"`
	Input                     json.RawMessage `json:"input,omitempty"`
	ToolUseID                 string          `json:"tool_use_id,omitempty"`
	ToolResultContent         json.RawMessage `json:"result_content,omitempty"`
	IsError                   bool            `json:"is_error,omitempty"`
	Usage                     *Usage          `json:"usage,omitempty"`
	TotalCostUsd              float64         `json:"total_cost_usd,omitempty"`
	DurationMs                int64           `json:"duration_ms,omitempty"`
	Errors                    []string        `json:"errors,omitempty"`
	RequiresCheckpointRestore bool            `json:"requires_checkpoint_restore,omitempty"`
	Message                   string          `json:"message,omitempty"`
	Code                      string          `json:"code,omitempty"`
	ParentToolUseID           string          `json:"parent_tool_use_id,omitempty"`
	ContentBlocks             []ContentBlock  `json:"content_blocks,omitempty"`
	Role                      string          `json:"role,omitempty"`
}

func (e CanonicalEvent) toShadow() shadowEvent {
	return shadowEvent{
		Type: e.Type, Subtype: e.Subtype, SessionID: e.SessionID, Model: e.Model,
		CWD: e.CWD, PermissionMode: e.PermissionMode, Tools: e.Tools,
		Content: e.Content, ID: e.ID, Text: e.Text, Hidden: e.Hidden,
		Name: e.Name, Input: e.Input, ToolUseID: e.ToolUseID,
		ToolResultContent: e.ToolResultContent, IsError: e.IsError, Usage: e.Usage,
		TotalCostUsd: e.TotalCostUsd, DurationMs: e.DurationMs, Errors: e.Errors,
		RequiresCheckpointRestore: e.RequiresCheckpointRestore, Message: e.Message,
		Code: e.Code, ParentToolUseID: e.ParentToolUseID, ContentBlocks: e.ContentBlocks,
		Role: e.Role,
	}
}

func (s shadowEvent) toEvent() CanonicalEvent {
	return CanonicalEvent{
		Type: s.Type, Subtype: s.Subtype, SessionID: s.SessionID, Model: s.Model,
		CWD: s.CWD, PermissionMode: s.PermissionMode, Tools: s.Tools,
		Content: s.Content, ID: s.ID, Text: s.Text, Hidden: s.Hidden,
		Name: s.Name, Input: s.Input, ToolUseID: s.ToolUseID,
		ToolResultContent: s.ToolResultContent, IsError: s.IsError, Usage: s.Usage,
		TotalCostUsd: s.TotalCostUsd, DurationMs: s.DurationMs, Errors: s.Errors,
		RequiresCheckpointRestore: s.RequiresCheckpointRestore, Message: s.Message,
		Code: s.Code, ParentToolUseID: s.ParentToolUseID, ContentBlocks: s.ContentBlocks,
		Role: s.Role,
	}
}

// MarshalJSON merges the modeled fields with any opaque Extra fields that
// were preserved from the wire, and with Raw when Type == KindRaw.
func (e CanonicalEvent) MarshalJSON() ([]byte, error) {
	if e.Type == KindRaw && len(e.Raw) > 0 {
		return e.Raw, nil
	}

	shadowData, err := json.Marshal(e.toShadow())
	if err != nil {
		return nil, err
	}

	if len(e.Extra) == 0 {
		return shadowData, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(shadowData, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, known := knownFields[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalCanonicalEvent decodes a single complete JSON object into a
// CanonicalEvent, preserving unmodeled top-level fields in Extra and
// falling back to KindRaw (with the original bytes retained) for an
// unrecognized type. Invalid UTF-8 is expected to already have been
// replaced by the caller (the Parser does this before invoking decode).
func UnmarshalCanonicalEvent(data []byte) (CanonicalEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return CanonicalEvent{}, err
	}

	var s shadowEvent
	if err := json.Unmarshal(data, &s); err != nil {
		return CanonicalEvent{}, err
	}
	event := s.toEvent()

	switch event.Type {
	case KindSystem, KindText, KindThinking, KindToolUse, KindToolResult,
		KindUsage, KindResult, KindError, KindInterrupt, KindMessageStop,
		KindAssistant, KindUser:
		// known; fall through to Extra collection below
	default:
		event.Type = KindRaw
		event.Raw = append(json.RawMessage(nil), data...)
	}

	for k, v := range raw {
		if _, known := knownFields[k]; known {
			continue
		}
		if event.Extra == nil {
			event.Extra = make(map[string]json.RawMessage)
		}
		event.Extra[k] = v
	}

	return event, nil
}

// EncodeLine serializes an event as a single canonical stream-json line,
// newline-terminated. Per spec §6.1 the legacy `$` terminator is accepted
// on input but never emitted on output.
func EncodeLine(e CanonicalEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// MessageStop returns the canonical end-of-turn marker event emitted after
// `result`, per spec §6.1.
func MessageStop() CanonicalEvent {
	return CanonicalEvent{Type: KindMessageStop}
}
