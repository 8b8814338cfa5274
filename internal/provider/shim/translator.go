// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"encoding/json"
	"fmt"

	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// alienLine is the native stream-json shape an upstream agentic CLI emits.
// Only the fields relevant to one type are populated on any given line.
type alienLine struct {
	Type string `json:"type"`

	// init
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// content / thinking deltas
	Text string `json:"text,omitempty"`

	// function_call (buffered across lines until ArgsDelta concatenates to
	// valid JSON)
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`

	// function_result
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// usage
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// pendingCall buffers a function_call's argument chunks until they parse as
// a complete JSON value.
type pendingCall struct {
	name    string
	args    string
	emitted bool
}

// translator holds one spawned child's translation state: partial
// function_call argument buffers, the synthetic-id assignment per alien
// call id, and whether a real usage event has been seen (so a missing one
// can be estimated at turn end).
type translator struct {
	provider string

	counter  int
	pending  map[string]*pendingCall // alien call_id -> buffer
	synth    map[string]string       // alien call_id -> call_<provider>_<n>
	sawUsage bool
	outputChars int
}

// Translate turns one raw line from the upstream CLI into zero or more
// canonical events. A line that fails to parse as JSON at all is reported
// as an error rather than silently dropped.
func (t *translator) Translate(line string) ([]streamjson.CanonicalEvent, error) {
	var al alienLine
	if err := json.Unmarshal([]byte(line), &al); err != nil {
		return nil, &UnsupportedLineError{Line: line}
	}

	switch al.Type {
	case "init":
		return []streamjson.CanonicalEvent{{
			Type: streamjson.KindSystem, Subtype: streamjson.SubtypeInit,
			SessionID: al.SessionID, Model: al.Model,
		}}, nil

	case "content":
		t.outputChars += len(al.Text)
		return []streamjson.CanonicalEvent{{Type: streamjson.KindText, Content: al.Text}}, nil

	case "thinking":
		return []streamjson.CanonicalEvent{{Type: streamjson.KindThinking, Text: al.Text}}, nil

	case "function_call":
		return t.handleFunctionCall(al)

	case "function_result":
		return t.handleFunctionResult(al)

	case "usage":
		t.sawUsage = true
		return []streamjson.CanonicalEvent{{
			Type: streamjson.KindUsage,
			Usage: &streamjson.Usage{
				InputTokens:  al.InputTokens,
				OutputTokens: al.OutputTokens,
			},
		}}, nil

	case "error":
		return []streamjson.CanonicalEvent{{
			Type: streamjson.KindSystem, Subtype: streamjson.SubtypeError, Message: al.Message,
		}}, nil

	case "done":
		return t.finish(al.IsError), nil

	default:
		return nil, fmt.Errorf("shim: unrecognized alien event type %q", al.Type)
	}
}

// handleFunctionCall buffers ArgsDelta under CallID until the accumulated
// string parses as a complete JSON value, then emits a single canonical
// tool_use with a synthetic stable id. Subsequent chunks for an
// already-emitted call are appended but never re-emitted.
func (t *translator) handleFunctionCall(al alienLine) ([]streamjson.CanonicalEvent, error) {
	if t.pending == nil {
		t.pending = make(map[string]*pendingCall)
		t.synth = make(map[string]string)
	}
	pc, ok := t.pending[al.CallID]
	if !ok {
		pc = &pendingCall{name: al.Name}
		t.pending[al.CallID] = pc
	}
	pc.args += al.ArgsDelta
	if pc.emitted || !json.Valid([]byte(pc.args)) {
		return nil, nil
	}
	pc.emitted = true

	t.counter++
	id := fmt.Sprintf("call_%s_%d", t.provider, t.counter)
	t.synth[al.CallID] = id

	return []streamjson.CanonicalEvent{{
		Type:  streamjson.KindToolUse,
		ID:    id,
		Name:  pc.name,
		Input: json.RawMessage(pc.args),
	}}, nil
}

// handleFunctionResult looks up the synthetic id assigned to CallID's
// tool_use and emits the matching canonical tool_result.
func (t *translator) handleFunctionResult(al alienLine) ([]streamjson.CanonicalEvent, error) {
	id, ok := t.synth[al.CallID]
	if !ok {
		return nil, fmt.Errorf("shim: function_result for unknown call_id %q", al.CallID)
	}
	content, err := json.Marshal(al.Output)
	if err != nil {
		return nil, err
	}
	return []streamjson.CanonicalEvent{{
		Type:              streamjson.KindToolResult,
		ToolUseID:         id,
		ToolResultContent: content,
		IsError:           al.IsError,
	}}, nil
}

// estimatedCharsPerToken is the heuristic divisor used when the upstream
// CLI's "done" line arrives without a prior usage event.
const estimatedCharsPerToken = 4

// finish emits the terminal usage (synthesized if none was seen) and result
// events for the turn.
func (t *translator) finish(isError bool) []streamjson.CanonicalEvent {
	var events []streamjson.CanonicalEvent
	if !t.sawUsage {
		events = append(events, streamjson.CanonicalEvent{
			Type: streamjson.KindUsage,
			Usage: &streamjson.Usage{
				OutputTokens: t.outputChars / estimatedCharsPerToken,
				Estimated:    true,
			},
		})
	}
	events = append(events, streamjson.CanonicalEvent{Type: streamjson.KindResult, IsError: isError})
	events = append(events, streamjson.MessageStop())
	return events
}
