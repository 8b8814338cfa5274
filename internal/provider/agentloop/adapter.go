// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package agentloop is the ProviderAdapter for Mode B (ShimAgentLoop, C7):
// a non-agentic upstream CLI that, given one turn's history and tool
// definitions, returns a single completion and exits, leaving the
// Think/Act/Observe loop to the broker itself. Unlike Mode A's ShimDriver,
// which treats the spawned child as a long-lived stream to translate line
// by line, this adapter's spawned child produces exactly one completion
// and its process exit ends that round; further rounds (after a tool
// result) spawn a fresh child with extended history.
package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/config"
	"github.com/wingedpig/agentbroker/internal/shimagent"
	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// completionLine is the non-agentic CLI's one-shot output shape, modeled on
// Mode A's per-line alien format but carrying a complete response rather
// than streaming deltas, since this child exits after producing it.
type completionLine struct {
	Text      string               `json:"text,omitempty"`
	Thinking  string               `json:"thinking,omitempty"`
	ToolCalls []completionToolCall `json:"tool_calls,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	Error string `json:"error,omitempty"`
}

type completionToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// requestEnvelope is what the adapter writes to the child's stdin: the
// running history plus the tool definitions available this turn.
type requestEnvelope struct {
	Model   string               `json:"model"`
	History []shimagent.Message  `json:"history"`
	Tools   []shimagent.ToolSpec `json:"tools"`
}

// cliGenerator implements shimagent.Generator by spawning cfg's binary
// once per call: one process, one request on stdin, one completionLine on
// stdout.
type cliGenerator struct {
	cfg     config.ProviderConfig
	timeout time.Duration
}

var _ shimagent.Generator = (*cliGenerator)(nil)

func (g *cliGenerator) Generate(ctx context.Context, history []shimagent.Message, tools []shimagent.ToolSpec) (shimagent.Response, error) {
	binary := g.cfg.Binary
	if binary == "" {
		binary = g.cfg.Name
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	args := append([]string{}, g.cfg.Args...)
	args = append(args, "--non-interactive", "--json")
	cmd := exec.CommandContext(runCtx, binary, args...)

	reqBody, err := json.Marshal(requestEnvelope{Model: g.cfg.Model, History: history, Tools: tools})
	if err != nil {
		return shimagent.Response{}, fmt.Errorf("agentloop: encode request: %w", err)
	}
	cmd.Stdin = bytes.NewReader(reqBody)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return shimagent.Response{}, fmt.Errorf("agentloop: %s: %w: %s", binary, err, stderr.String())
	}

	var line completionLine
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &line); err != nil {
		return shimagent.Response{}, fmt.Errorf("agentloop: parse completion: %w", err)
	}
	if line.Error != "" {
		return shimagent.Response{}, fmt.Errorf("agentloop: %s: %s", binary, line.Error)
	}

	return completionToResponse(line), nil
}

func completionToResponse(line completionLine) shimagent.Response {
	var blocks []streamjson.ContentBlock
	if line.Thinking != "" {
		blocks = append(blocks, streamjson.ContentBlock{Type: streamjson.KindThinking, Text: line.Thinking})
	}
	if line.Text != "" {
		blocks = append(blocks, streamjson.ContentBlock{Type: streamjson.KindText, Content: json.RawMessage(strconvQuote(line.Text))})
	}
	for _, tc := range line.ToolCalls {
		blocks = append(blocks, streamjson.ContentBlock{
			Type: streamjson.KindToolUse, ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
		})
	}

	var usage *streamjson.Usage
	if line.InputTokens > 0 || line.OutputTokens > 0 {
		usage = &streamjson.Usage{InputTokens: line.InputTokens, OutputTokens: line.OutputTokens}
	}

	return shimagent.Response{Blocks: blocks, Usage: usage}
}

// strconvQuote JSON-encodes s as a string literal, used since
// ContentBlock.Content is json.RawMessage rather than a plain string.
func strconvQuote(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

// Adapter is the broker.ProviderAdapter for Mode B. Its BuildArgv/SendTurn
// pair spawns the first completion round through the registry like any
// other adapter, so that round's lifecycle (kill, output tail on crash) is
// registry-tracked; NewLineTranslator then takes over and drives every
// further round of the Think/Act/Observe loop itself, spawning additional
// one-shot completions directly rather than through the registry, since
// those are rapid internal round-trips rather than long-lived streamed
// children.
type Adapter struct {
	cfg       config.ProviderConfig
	executor  shimagent.ToolExecutor
	approvals shimagent.ApprovalGate
	maxIter   int
	mode      shimagent.PermissionMode
	timeout   time.Duration
}

// Config holds Mode B's wiring, beyond the ProviderConfig entry itself.
type Config struct {
	Executor      shimagent.ToolExecutor
	Approvals     shimagent.ApprovalGate
	MaxIterations int
	DefaultMode   shimagent.PermissionMode
	CallTimeout   time.Duration
}

// New builds an Adapter for one non-Claude provider entry deployed in Mode B.
func New(cfg config.ProviderConfig, mbCfg Config) *Adapter {
	mode := mbCfg.DefaultMode
	if mode == "" {
		mode = shimagent.PermissionAuto
	}
	timeout := mbCfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		cfg:       cfg,
		executor:  mbCfg.Executor,
		approvals: mbCfg.Approvals,
		maxIter:   mbCfg.MaxIterations,
		mode:      mode,
		timeout:   timeout,
	}
}

var (
	_ broker.ProviderAdapter       = (*Adapter)(nil)
	_ broker.LineTranslatorFactory = (*Adapter)(nil)
)

// BuildArgv constructs the first completion round's invocation; the prompt
// travels on stdin (see SendTurn) rather than argv, matching cliGenerator's
// own request envelope so the first round looks identical to every
// subsequent one from the CLI's point of view.
func (a *Adapter) BuildArgv(spec broker.SpawnSpec) ([]string, map[string]string, error) {
	binary := a.cfg.Binary
	if binary == "" {
		binary = a.cfg.Name
	}
	args := append([]string{}, a.cfg.Args...)
	args = append(args, "--non-interactive", "--json")
	return append([]string{binary}, args...), nil, nil
}

// SendTurn writes the first request envelope to the freshly spawned
// child's stdin.
func (a *Adapter) SendTurn(stdin io.Writer, spec broker.SpawnSpec) error {
	req := requestEnvelope{
		Model:   spec.Model,
		History: []shimagent.Message{{Role: "user", Content: []streamjson.ContentBlock{{Type: streamjson.KindText, Content: json.RawMessage(strconvQuote(spec.Prompt))}}}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = stdin.Write(body)
	return err
}

// NewLineTranslator returns a fresh per-spawn loop runner carrying this
// turn's prompt and cwd, so concurrent sessions never share loop state.
func (a *Adapter) NewLineTranslator(spec broker.SpawnSpec) broker.LineTranslator {
	return &turnRunner{adapter: a, spec: spec}
}

// turnRunner drives one user turn's entire Think/Act/Observe loop the
// first time it receives a line (the first spawned child's completion),
// returning every canonical event the loop produced in one call. Lines
// received afterward (there should be none, since the loop's own further
// rounds are spawned outside the registry) are ignored.
type turnRunner struct {
	adapter *Adapter
	spec    broker.SpawnSpec
	done    bool
}

var _ broker.LineTranslator = (*turnRunner)(nil)

func (t *turnRunner) Translate(line string) ([]streamjson.CanonicalEvent, error) {
	if t.done {
		return nil, nil
	}
	t.done = true

	var first completionLine
	if err := json.Unmarshal([]byte(line), &first); err != nil {
		return nil, fmt.Errorf("agentloop: parse first completion: %w", err)
	}
	if first.Error != "" {
		return nil, fmt.Errorf("agentloop: %s", first.Error)
	}

	loop := shimagent.New(shimagent.Config{
		Generator:     &primedGenerator{first: completionToResponse(first), fallback: &cliGenerator{cfg: t.adapter.cfg, timeout: t.adapter.timeout}},
		Tools:         t.adapter.executor,
		Approvals:     t.adapter.approvals,
		MaxIterations: t.adapter.maxIter,
	})

	var events []streamjson.CanonicalEvent
	emit := func(ev streamjson.CanonicalEvent) { events = append(events, ev) }

	_, err := loop.Run(context.Background(), nil, t.spec.Prompt, t.spec.CWD, nil, t.adapter.mode, emit)
	if err != nil {
		return events, err
	}
	return events, nil
}

// primedGenerator returns a pre-computed Response (already produced by the
// registry-spawned first child) on its first call, then delegates to
// fallback for every subsequent Think/Act/Observe iteration.
type primedGenerator struct {
	first    shimagent.Response
	fallback shimagent.Generator
	used     bool
}

var _ shimagent.Generator = (*primedGenerator)(nil)

func (g *primedGenerator) Generate(ctx context.Context, history []shimagent.Message, tools []shimagent.ToolSpec) (shimagent.Response, error) {
	if !g.used {
		g.used = true
		return g.first, nil
	}
	return g.fallback.Generate(ctx, history, tools)
}
