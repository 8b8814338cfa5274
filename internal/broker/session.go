// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"time"

	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// session is the broker's live, in-memory handle on one SessionRecord: its
// state-machine position, epoch counter, fan-out subscribers, and the
// bookkeeping the quiescence and deferred-interrupt rules need. All
// mutation funnels through the owning Broker's per-session lock.
type session struct {
	mu sync.Mutex

	record SessionRecord
	state  State

	// epoch is a turn counter that nothing increments or reads: turns are
	// not numbered, and a deferred retry is not checked against a newer
	// turn before it runs.
	epoch int

	spawnedAt              time.Time // when the current child was spawned
	sawFirstContent        bool      // true once the current turn's first content block has streamed
	turnResultClaimed      bool      // true once a result event has been emitted for the current turn
	interruptResultIsError bool      // set by an interrupt in progress; consulted by pump's result synthesis

	subscribers map[chan streamjson.CanonicalEvent]struct{}

	pendingTurn *SpawnSpec // a turn deferred by the young-process quiescence window
}

func newSession(rec SessionRecord) *session {
	if rec.ActiveFileOps == nil {
		rec.ActiveFileOps = make(map[string]struct{})
	}
	return &session{
		record:      rec,
		state:       StateIdle,
		subscribers: make(map[chan streamjson.CanonicalEvent]struct{}),
	}
}

// subscribe returns a channel of canonical events for this session and an
// unsubscribe func. The channel is bounded; a slow subscriber is
// disconnected rather than allowed to block the parser (§ Fan-out).
func (s *session) subscribe(queueSize int) (<-chan streamjson.CanonicalEvent, func()) {
	if queueSize <= 0 {
		queueSize = defaultSubscriberQueueSize
	}
	ch := make(chan streamjson.CanonicalEvent, queueSize)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	unsub := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, unsub
}

// fanOut delivers event to every live subscriber, in call order, dropping
// and disconnecting any subscriber whose buffer is full.
func (s *session) fanOut(event streamjson.CanonicalEvent, onLag func(ch chan streamjson.CanonicalEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			delete(s.subscribers, ch)
			close(ch)
			if onLag != nil {
				onLag(ch)
			}
		}
	}
}

func (s *session) closeAllSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan streamjson.CanonicalEvent]struct{})
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// addFileOp/removeFileOp track in-flight tool writes so an interrupt can
// wait for them to drain (fileOpsDrainWindow) before killing the child.
func (s *session) addFileOp(toolUseID string) {
	s.mu.Lock()
	s.record.ActiveFileOps[toolUseID] = struct{}{}
	s.mu.Unlock()
}

func (s *session) removeFileOp(toolUseID string) {
	s.mu.Lock()
	delete(s.record.ActiveFileOps, toolUseID)
	s.mu.Unlock()
}

func (s *session) fileOpsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.record.ActiveFileOps)
}

func (s *session) appendTurn(t TurnRecord) {
	s.mu.Lock()
	s.record.History = append(s.record.History, t)
	s.mu.Unlock()
}

// takePendingTurn atomically reads and clears a deferred/queued turn.
func (s *session) takePendingTurn() *SpawnSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingTurn
	s.pendingTurn = nil
	return p
}

// claimResult marks the current turn's terminal result as emitted,
// returning true only for the first caller. Used to guarantee exactly one
// result event per turn (data model invariant d) even when an explicit
// interrupt races with the pump's own end-of-stream synthesis.
func (s *session) claimResult() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnResultClaimed {
		return false
	}
	s.turnResultClaimed = true
	return true
}

func (s *session) resetTurnResult() {
	s.mu.Lock()
	s.turnResultClaimed = false
	s.interruptResultIsError = false
	s.mu.Unlock()
}

func (s *session) youngProcess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.spawnedAt.IsZero() && time.Since(s.spawnedAt) < youngProcessWindow
}
