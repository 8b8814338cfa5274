// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the per-session state machine that drives
// spawn/resume/interrupt of provider CLI children, enforces at-most-one
// running child per session, and fans canonical events out to subscribers
// in arrival order.
package broker

import (
	"io"
	"time"

	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// State is a session's position in the SessionBroker state machine.
type State int

const (
	StateIdle State = iota
	StateSpawning
	StateRunning
	StateInterrupting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateInterrupting:
		return "interrupting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// youngProcessWindow bounds how long after spawn a new turn defers instead
// of force-restarting, to avoid stomping on in-flight child initialization.
const youngProcessWindow = 3 * time.Second

// requeueDelay is how long a deferred turn waits before being retried.
const requeueDelay = 2 * time.Second

// fileOpsDrainWindow bounds how long an interrupt waits for activeFileOps
// to empty before proceeding, to avoid leaving half-written files.
const fileOpsDrainWindow = 5 * time.Second

// spawnGraceWindow is how long SessionBroker waits for the first byte off
// a freshly spawned child before treating it as running anyway.
const spawnGraceWindow = 200 * time.Millisecond

// defaultSubscriberQueueSize bounds a fan-out subscriber's channel; a
// subscriber that falls this far behind is disconnected rather than
// allowed to block the parser.
const defaultSubscriberQueueSize = 1024

// Usage is cumulative per-session token/cost accounting.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheReadTokens          int
	CacheCreationInputTokens int
	TotalCostUsd             float64
}

// ContentBlock mirrors streamjson.ContentBlock for turn history storage.
type ContentBlock = streamjson.ContentBlock

// TurnRecord is one message exchange within a session's history.
type TurnRecord struct {
	TurnID          string
	Timestamp       time.Time
	Role            string // user, assistant, tool_result, system
	Content         []ContentBlock
	ParentToolUseID string
	Usage           *Usage
}

// SessionRecord is the unit of broker state for one session: identity,
// provider binding, turn history, and the fields the state machine and
// quiescence rules consult.
type SessionRecord struct {
	SessionID         string
	ProviderSessionID string
	Provider          string
	Model             string
	CWD               string
	History           []TurnRecord
	HasGeneratedTitle bool
	WasInterrupted    bool
	TitleText         string
	ActiveRunID       string
	PendingInterrupt  bool
	ActiveFileOps     map[string]struct{}
	Usage             Usage
	CreatedAt         time.Time
}

// SpawnSpec is what a ProviderAdapter needs to construct a child invocation.
type SpawnSpec struct {
	SessionID         string
	ProviderSessionID string // non-empty means resume
	CWD               string
	Model             string
	Prompt            string
}

// ProviderAdapter builds the argv/env for a provider CLI child and knows
// how to deliver a user turn once the child is running (the Claude adapter
// encodes the prompt into argv via --print and writes nothing on stdin;
// other adapters may deliver the turn on stdin after spawn).
type ProviderAdapter interface {
	// BuildArgv returns the binary and arguments to spawn for spec.
	BuildArgv(spec SpawnSpec) (argv []string, env map[string]string, err error)
	// SendTurn writes a user turn to an already-running child's stdin, if
	// the provider expects turns delivered that way. Adapters that encode
	// the whole prompt into argv return nil without writing anything.
	SendTurn(stdin io.Writer, spec SpawnSpec) error
}

// LineTranslator is implemented by a per-spawn translator for a provider
// adapter whose child does not speak canonical stream-json natively (a
// ShimDriver wrapping `gemini` or `codex`). When present, pump feeds every
// raw stdout/stderr line through Translate instead of streamjson.Parser, so
// an alien wire format can still ride the same fan-out and completion
// machinery as the native Claude adapter.
type LineTranslator interface {
	Translate(line string) ([]streamjson.CanonicalEvent, error)
}

// LineTranslatorFactory is implemented by a ProviderAdapter that needs
// per-spawn translator state (partial tool-call argument buffers, synthetic
// id counters, or, for ShimAgentLoop, the turn's prompt/cwd/resume id).
// pump calls NewLineTranslator once per spawned child, so concurrent
// sessions on the same adapter never share translation state.
type LineTranslatorFactory interface {
	NewLineTranslator(spec SpawnSpec) LineTranslator
}
