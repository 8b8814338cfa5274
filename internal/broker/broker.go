// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/agentbroker/internal/events"
	"github.com/wingedpig/agentbroker/internal/registry"
	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// ErrNotFound is returned by operations addressing an unknown sessionId.
var ErrNotFound = errors.New("broker: session not found")

// resumeFailureMarker is the stderr substring Claude emits when a --resume
// target no longer exists (e.g. history was compacted out from under it).
const resumeFailureMarker = "No conversation found with session ID"

// writeTools are the ToolExecutor operations tracked in activeFileOps,
// since only these can leave a half-written file if interrupted mid-call.
var writeTools = map[string]struct{}{
	"Write":     {},
	"Edit":      {},
	"MultiEdit": {},
}

// Broker is the SessionBroker (C4): it owns every SessionRecord, drives
// the per-session state machine, and fans canonical events out to
// subscribers. It spawns children through a registry.Registry and never
// talks to a provider CLI's argv conventions directly — that's
// ProviderAdapter's job.
type Broker struct {
	mu       sync.Mutex
	sessions map[string]*session
	// providerIndex supports cross-process lookup by the upstream CLI's
	// own session id once it's learned from system/init (§ session-id
	// late binding).
	providerIndex map[string]string

	registry *registry.Registry
	adapters map[string]ProviderAdapter

	bus events.EventBus

	maxLineBytes        int
	subscriberQueueSize int
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithMaxLineBytes bounds the streamjson parser's per-object buffer.
func WithMaxLineBytes(n int) Option {
	return func(b *Broker) { b.maxLineBytes = n }
}

// WithSubscriberQueueSize bounds each fan-out subscriber's channel.
func WithSubscriberQueueSize(n int) Option {
	return func(b *Broker) { b.subscriberQueueSize = n }
}

// New creates a Broker. reg owns the actual child processes; bus receives
// coarse lifecycle events for operational introspection and may be nil to
// disable that.
func New(reg *registry.Registry, bus events.EventBus, adapters map[string]ProviderAdapter, opts ...Option) *Broker {
	b := &Broker{
		sessions:            make(map[string]*session),
		providerIndex:       make(map[string]string),
		registry:            reg,
		adapters:            adapters,
		bus:                 bus,
		maxLineBytes:        streamjson.DefaultMaxLineBytes,
		subscriberQueueSize: defaultSubscriberQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateSession registers a new SessionRecord and returns its broker-
// assigned sessionId, stable for the session's life.
func (b *Broker) CreateSession(provider, model, cwd string) *SessionRecord {
	rec := SessionRecord{
		SessionID: uuid.New().String(),
		Provider:  provider,
		Model:     model,
		CWD:       cwd,
		CreatedAt: time.Now(),
	}
	sess := newSession(rec)

	b.mu.Lock()
	b.sessions[rec.SessionID] = sess
	b.mu.Unlock()

	return &sess.record
}

func (b *Broker) get(sessionID string) (*session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[sessionID]
	return sess, ok
}

// Subscribe registers for a session's canonical events, delivered in
// arrival order. The returned unsubscribe func must be called once the
// caller is done to release the channel.
func (b *Broker) Subscribe(sessionID string) (<-chan streamjson.CanonicalEvent, func(), error) {
	sess, ok := b.get(sessionID)
	if !ok {
		return nil, nil, ErrNotFound
	}
	ch, unsub := sess.subscribe(b.subscriberQueueSize)
	return ch, unsub, nil
}

// SendMessage submits a user turn for sessionId. It never blocks on the
// child's lifecycle: spawning, interrupting, and restarting all happen
// asynchronously, with canonical events (including the terminal result)
// delivered to subscribers.
func (b *Broker) SendMessage(ctx context.Context, sessionID, content, model string) error {
	sess, ok := b.get(sessionID)
	if !ok {
		return ErrNotFound
	}
	spec := SpawnSpec{
		SessionID:         sessionID,
		ProviderSessionID: sess.record.ProviderSessionID,
		CWD:               sess.record.CWD,
		Model:             model,
		Prompt:            content,
	}
	return b.dispatchTurn(ctx, sess, spec)
}

// dispatchTurn applies the SessionBroker state machine's transition rules
// for a newly-arrived turn.
func (b *Broker) dispatchTurn(ctx context.Context, sess *session, spec SpawnSpec) error {
	switch sess.getState() {
	case StateIdle, StateTerminated:
		sess.setState(StateSpawning)
		b.spawnChild(ctx, sess, spec)
		return nil

	case StateSpawning:
		// Defer rather than contend with a child still starting up.
		b.deferTurn(ctx, sess, spec)
		return nil

	case StateRunning:
		if sess.youngProcess() {
			// Young-process quiescence window: don't stomp on in-flight
			// initialization, re-enqueue instead of killing.
			b.deferTurn(ctx, sess, spec)
			return nil
		}
		// Force-restart policy: another turn for a running session
		// interrupts the current child first.
		b.forceRestart(sess, spec)
		return nil

	case StateInterrupting:
		sess.mu.Lock()
		sess.pendingTurn = &spec
		sess.mu.Unlock()
		return nil
	}
	return fmt.Errorf("broker: session %s in unexpected state", sess.record.SessionID)
}

func (b *Broker) deferTurn(ctx context.Context, sess *session, spec SpawnSpec) {
	sess.mu.Lock()
	sess.pendingTurn = &spec
	sess.mu.Unlock()
	time.AfterFunc(requeueDelay, func() {
		if pending := sess.takePendingTurn(); pending != nil {
			_ = b.dispatchTurn(ctx, sess, *pending)
		}
	})
}

// forceRestart interrupts the currently-running child (draining any
// in-flight file writes first) and queues spec to run once that child's
// pump observes its exit and dispatches the next turn itself. Ownership of
// the terminal result/stream_end/state transition stays entirely with
// pump, so an in-flight interrupt can never race the child's own natural
// completion into emitting two results for one turn.
func (b *Broker) forceRestart(sess *session, spec SpawnSpec) {
	sess.setState(StateInterrupting)
	sess.mu.Lock()
	sess.pendingTurn = &spec
	sess.mu.Unlock()
	b.interruptInFlight(sess)
}

// Interrupt stops sessionId's currently running or spawning child. If the
// assistant hasn't streamed its first content block yet, the interrupt is
// deferred until it does (§ Deferred interrupts), so the client always
// sees visible confirmation that something happened.
func (b *Broker) Interrupt(ctx context.Context, sessionID string) error {
	sess, ok := b.get(sessionID)
	if !ok {
		return ErrNotFound
	}
	st := sess.getState()
	if st != StateRunning && st != StateSpawning {
		return nil // idempotent: nothing active to interrupt
	}

	sess.mu.Lock()
	deferred := !sess.sawFirstContent
	if deferred {
		sess.record.PendingInterrupt = true
	}
	sess.mu.Unlock()
	if deferred {
		return nil
	}

	b.executeInterruptNow(sess)
	return nil
}

// executeInterruptNow runs the actual kill sequence, draining activeFileOps
// first. Called either directly from Interrupt or once a deferred
// interrupt's trigger condition (first content block) is met.
func (b *Broker) executeInterruptNow(sess *session) {
	sess.setState(StateInterrupting)
	sess.mu.Lock()
	sess.record.WasInterrupted = true
	sess.record.PendingInterrupt = false
	sess.mu.Unlock()
	b.interruptInFlight(sess)
}

// interruptInFlight drains pending file writes, kills the session's child,
// and emits the canonical system/interrupted marker. It does not itself
// emit a result, touch lifecycle state, or transition the session out of
// Interrupting — that's pump's job once it observes the kill take effect,
// consulting interruptResultIsError to know the result should be an error.
func (b *Broker) interruptInFlight(sess *session) {
	go func() {
		b.drainFileOps(sess)
		b.killCurrent(sess)
		b.deliverEvent(sess, streamjson.CanonicalEvent{Type: streamjson.KindSystem, Subtype: streamjson.SubtypeInterrupted})
		sess.mu.Lock()
		sess.interruptResultIsError = true
		sess.mu.Unlock()
		b.publishLifecycle(sess.record.SessionID, events.EventSessionInterrupted)
	}()
}

func (b *Broker) drainFileOps(sess *session) {
	deadline := time.Now().Add(fileOpsDrainWindow)
	for sess.fileOpsCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

func (b *Broker) killCurrent(sess *session) {
	if err := b.registry.Kill(context.Background(), sess.record.SessionID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		// Nothing further to do; the reaper (waitForExit) will still
		// observe the eventual exit if the child is merely slow to die.
		_ = err
	}
}

// ClearSession resets a session's conversation history, best-effort
// interrupting any active child first so the clear isn't racing a turn.
func (b *Broker) ClearSession(sessionID string) error {
	sess, ok := b.get(sessionID)
	if !ok {
		return ErrNotFound
	}
	if st := sess.getState(); st == StateRunning || st == StateSpawning {
		b.executeInterruptNow(sess)
	}

	sess.mu.Lock()
	sess.record.History = nil
	sess.record.ProviderSessionID = ""
	sess.record.WasInterrupted = false
	sess.record.HasGeneratedTitle = false
	sess.record.TitleText = ""
	sess.record.PendingInterrupt = false
	sess.record.ActiveFileOps = make(map[string]struct{})
	sess.record.Usage = Usage{}
	sess.mu.Unlock()
	sess.setState(StateIdle)
	return nil
}

// DeleteSession tears down sessionId entirely: kills any active child,
// closes subscribers, and removes it from the broker.
func (b *Broker) DeleteSession(sessionID string) error {
	sess, ok := b.get(sessionID)
	if !ok {
		return ErrNotFound
	}
	if st := sess.getState(); st == StateRunning || st == StateSpawning || st == StateInterrupting {
		b.killCurrent(sess)
	}
	sess.closeAllSubscribers()

	b.mu.Lock()
	delete(b.sessions, sessionID)
	if sess.record.ProviderSessionID != "" {
		delete(b.providerIndex, sess.record.ProviderSessionID)
	}
	b.mu.Unlock()

	b.publishLifecycle(sessionID, events.EventSessionTerminated)
	return nil
}

// Get returns a snapshot of a session's current record.
func (b *Broker) Get(sessionID string) (SessionRecord, bool) {
	sess, ok := b.get(sessionID)
	if !ok {
		return SessionRecord{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.record, true
}

// spawnChild starts a provider child for spec and pumps its output through
// streamjson into canonical events, fanned out to subscribers.
func (b *Broker) spawnChild(ctx context.Context, sess *session, spec SpawnSpec) {
	adapter, ok := b.adapters[sess.record.Provider]
	if !ok {
		b.emitSynthetic(sess, systemErrorEvent(fmt.Errorf("no provider adapter for %q", sess.record.Provider)))
		sess.setState(StateTerminated)
		return
	}

	argv, env, err := adapter.BuildArgv(spec)
	if err != nil {
		b.emitSynthetic(sess, systemErrorEvent(err))
		sess.setState(StateTerminated)
		return
	}

	h, err := b.registry.Spawn(ctx, registry.Spec{
		RunID:   spec.SessionID,
		Argv:    argv,
		WorkDir: spec.CWD,
		Env:     env,
	})
	if err != nil {
		b.emitSynthetic(sess, systemErrorEvent(err))
		sess.setState(StateTerminated)
		return
	}

	sess.mu.Lock()
	sess.spawnedAt = time.Now()
	sess.sawFirstContent = false
	sess.record.ActiveRunID = spec.SessionID
	sess.mu.Unlock()
	sess.resetTurnResult()

	if err := adapter.SendTurn(h.Stdin(), spec); err != nil {
		b.emitSynthetic(sess, systemErrorEvent(fmt.Errorf("writing turn: %w", err)))
	}

	b.publishLifecycle(sess.record.SessionID, events.EventSessionSpawned)

	lines, unsub := h.SubscribeLines()
	firstByte := make(chan struct{})
	var firstByteOnce sync.Once

	go func() {
		select {
		case <-firstByte:
		case <-time.After(spawnGraceWindow):
		}
		if sess.getState() == StateSpawning {
			sess.setState(StateRunning)
			b.publishLifecycle(sess.record.SessionID, events.EventSessionRunning)
		}
	}()

	go b.pump(ctx, sess, h, lines, unsub, firstByte, &firstByteOnce, spec, adapter)
}

// pump drains a child's live output lines through a streamjson.Parser (or,
// for a ShimDriver wrapping an alien CLI, through adapter's LineTranslator),
// handling session-id late binding, activeFileOps tracking, deferred
// interrupts, and resume-failure detection, until the child exits.
func (b *Broker) pump(ctx context.Context, sess *session, h *registry.Handle, lines <-chan string, unsub func(), firstByte chan struct{}, firstByteOnce *sync.Once, spec SpawnSpec, adapter ProviderAdapter) {
	defer unsub()

	var translator LineTranslator
	isShim := false
	if factory, ok := adapter.(LineTranslatorFactory); ok {
		translator = factory.NewLineTranslator(spec)
		isShim = true
	} else if lt, ok := adapter.(LineTranslator); ok {
		translator = lt
		isShim = true
	}
	parser := streamjson.NewParser(streamjson.WithMaxLineBytes(b.maxLineBytes))
	resumeFailed := false

	for line := range lines {
		firstByteOnce.Do(func() { close(firstByte) })

		if !isShim && strings.Contains(line, resumeFailureMarker) {
			resumeFailed = true
			sess.mu.Lock()
			sess.record.ProviderSessionID = ""
			sess.mu.Unlock()
			if sess.claimResult() {
				b.handleEvent(sess, resultEvent(true, true))
				b.handleEvent(sess, streamjson.MessageStop())
			}
			continue
		}

		var evs []streamjson.CanonicalEvent
		if isShim {
			var err error
			evs, err = translator.Translate(line)
			if err != nil {
				b.handleEvent(sess, systemErrorEvent(fmt.Errorf("shim translate: %w", err)))
				continue
			}
		} else {
			evs = parser.Feed([]byte(line))
		}

		for _, ev := range evs {
			if ev.Type == streamjson.KindResult {
				sess.claimResult()
			}
			b.handleEvent(sess, ev)
			// Every turn ends with result then message_stop. The shim
			// path's translator/loop already emits its own message_stop
			// alongside its result; the native passthrough has no such
			// counterpart, so the broker supplies it here.
			if !isShim && ev.Type == streamjson.KindResult {
				b.handleEvent(sess, streamjson.MessageStop())
			}
		}
	}
	if !isShim {
		for _, ev := range parser.Finish() {
			if ev.Type == streamjson.KindResult {
				sess.claimResult()
			}
			b.handleEvent(sess, ev)
			if ev.Type == streamjson.KindResult {
				b.handleEvent(sess, streamjson.MessageStop())
			}
		}
	}

	if !resumeFailed && sess.claimResult() {
		status := h.Status()
		sess.mu.Lock()
		interrupted := sess.interruptResultIsError
		sess.mu.Unlock()
		switch {
		case status.State == registry.StateCrashed:
			for _, tail := range h.RecentOutput(50) {
				b.handleEvent(sess, errorTailEvent(tail))
			}
			b.handleEvent(sess, resultEvent(true, false))
			b.handleEvent(sess, streamjson.MessageStop())
		case interrupted:
			b.handleEvent(sess, resultEvent(true, false))
			b.handleEvent(sess, streamjson.MessageStop())
		default:
			b.handleEvent(sess, resultEvent(false, false))
			b.handleEvent(sess, streamjson.MessageStop())
		}
	}

	b.handleEvent(sess, streamjson.CanonicalEvent{Type: streamjson.KindSystem, Subtype: streamjson.SubtypeStreamEnd})
	b.publishLifecycle(sess.record.SessionID, events.EventSessionTerminated)
	sess.setState(StateTerminated)

	if pending := sess.takePendingTurn(); pending != nil {
		sess.setState(StateSpawning)
		b.spawnChild(ctx, sess, *pending)
	}
}

// handleEvent applies session-id late binding and activeFileOps tracking
// before fanning an event out to subscribers.
func (b *Broker) handleEvent(sess *session, ev streamjson.CanonicalEvent) {
	switch ev.Type {
	case streamjson.KindSystem:
		if ev.Subtype == streamjson.SubtypeInit && ev.SessionID != "" {
			sess.mu.Lock()
			sess.record.ProviderSessionID = ev.SessionID
			sess.mu.Unlock()
			b.mu.Lock()
			b.providerIndex[ev.SessionID] = sess.record.SessionID
			b.mu.Unlock()
		}
	case streamjson.KindToolUse:
		if _, ok := writeTools[ev.Name]; ok {
			sess.addFileOp(ev.ID)
		}
	case streamjson.KindToolResult:
		sess.removeFileOp(ev.ToolUseID)
	}

	if !isContentBlock(ev.Type) {
		b.deliverEvent(sess, ev)
		return
	}

	sess.mu.Lock()
	firstContent := !sess.sawFirstContent
	if firstContent {
		sess.sawFirstContent = true
	}
	fireDeferred := firstContent && sess.record.PendingInterrupt
	sess.mu.Unlock()

	b.deliverEvent(sess, ev)

	if fireDeferred {
		b.executeInterruptNow(sess)
	}
}

func isContentBlock(kind string) bool {
	switch kind {
	case streamjson.KindText, streamjson.KindThinking, streamjson.KindToolUse:
		return true
	default:
		return false
	}
}

func (b *Broker) deliverEvent(sess *session, ev streamjson.CanonicalEvent) {
	sess.fanOut(ev, func(chan streamjson.CanonicalEvent) {
		b.publishLifecycle(sess.record.SessionID, events.EventTailLagging)
	})
}

func (b *Broker) emitSynthetic(sess *session, errEv streamjson.CanonicalEvent) {
	b.deliverEvent(sess, errEv)
	b.deliverEvent(sess, resultEvent(true, false))
	b.publishLifecycle(sess.record.SessionID, events.EventSessionCrashed)
}

func (b *Broker) publishLifecycle(sessionID, eventType string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Event{
		Type:      eventType,
		SessionID: sessionID,
	})
}

func systemErrorEvent(err error) streamjson.CanonicalEvent {
	return streamjson.CanonicalEvent{
		Type:    streamjson.KindSystem,
		Subtype: streamjson.SubtypeError,
		Message: err.Error(),
	}
}

func errorTailEvent(line string) streamjson.CanonicalEvent {
	return streamjson.CanonicalEvent{
		Type:    streamjson.KindError,
		Message: strings.TrimRight(line, "\r\n"),
	}
}

func resultEvent(isError, requiresCheckpointRestore bool) streamjson.CanonicalEvent {
	return streamjson.CanonicalEvent{
		Type:                      streamjson.KindResult,
		IsError:                   isError,
		RequiresCheckpointRestore: requiresCheckpointRestore,
	}
}
