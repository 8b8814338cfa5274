// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package shimagent

import (
	"context"
	"fmt"
	"sync"
)

// ApprovalDecision is the operator's answer to one pending tool call.
type ApprovalDecision int

const (
	ApprovalAllow ApprovalDecision = iota
	ApprovalDeny
)

// ApprovalGate resolves the approval_latch half of the loop's state: given a
// tool-use id, it blocks until the operator (or some other authority)
// decides whether the call may run.
type ApprovalGate interface {
	Await(ctx context.Context, toolUseID string) (ApprovalDecision, error)

	// Resolve is called by whatever surface collects the operator's
	// decision (the boundary API's approve/deny endpoint) to unblock the
	// matching Await call.
	Resolve(toolUseID string, decision ApprovalDecision)
}

// ChannelApprovalGate is the default ApprovalGate: one buffered channel per
// outstanding tool-use id, created lazily on first Await and torn down once
// resolved. Safe for concurrent use across sessions since every tool-use id
// is unique to its own session and turn.
type ChannelApprovalGate struct {
	mu      sync.Mutex
	pending map[string]chan ApprovalDecision
}

// NewChannelApprovalGate builds an empty gate.
func NewChannelApprovalGate() *ChannelApprovalGate {
	return &ChannelApprovalGate{pending: make(map[string]chan ApprovalDecision)}
}

var _ ApprovalGate = (*ChannelApprovalGate)(nil)

// Await blocks until Resolve is called for toolUseID or ctx is canceled.
func (g *ChannelApprovalGate) Await(ctx context.Context, toolUseID string) (ApprovalDecision, error) {
	ch := g.channelFor(toolUseID)
	select {
	case decision := <-ch:
		g.forget(toolUseID)
		return decision, nil
	case <-ctx.Done():
		g.forget(toolUseID)
		return ApprovalDeny, fmt.Errorf("shimagent: approval wait for %s: %w", toolUseID, ctx.Err())
	}
}

// Resolve delivers decision to a pending Await for toolUseID, if one is
// waiting. A decision for an id nobody is waiting on (already resolved, or
// never requested) is silently dropped.
func (g *ChannelApprovalGate) Resolve(toolUseID string, decision ApprovalDecision) {
	g.mu.Lock()
	ch, ok := g.pending[toolUseID]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- decision:
	default:
	}
}

func (g *ChannelApprovalGate) channelFor(toolUseID string) chan ApprovalDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.pending[toolUseID]
	if !ok {
		ch = make(chan ApprovalDecision, 1)
		g.pending[toolUseID] = ch
	}
	return ch
}

func (g *ChannelApprovalGate) forget(toolUseID string) {
	g.mu.Lock()
	delete(g.pending, toolUseID)
	g.mu.Unlock()
}
