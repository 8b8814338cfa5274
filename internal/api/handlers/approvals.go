// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/agentbroker/internal/shimagent"
)

// ApprovalHandler resolves ShimAgentLoop's pending tool-call approvals: the
// GUI client calls this when the operator answers an interactive-mode
// approval prompt surfaced over a session's event stream.
type ApprovalHandler struct {
	gate shimagent.ApprovalGate
}

// NewApprovalHandler builds an ApprovalHandler over the shared gate every
// agentloop.Adapter awaits against.
func NewApprovalHandler(gate shimagent.ApprovalGate) *ApprovalHandler {
	return &ApprovalHandler{gate: gate}
}

type approvalDecisionRequest struct {
	Decision string `json:"decision"` // "allow" or "deny"
}

// Resolve handles POST /api/v1/approvals/{toolUseId}.
func (h *ApprovalHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	toolUseID := mux.Vars(r)["toolUseId"]

	var req approvalDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	var decision shimagent.ApprovalDecision
	switch req.Decision {
	case "allow":
		decision = shimagent.ApprovalAllow
	case "deny":
		decision = shimagent.ApprovalDeny
	default:
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "decision must be \"allow\" or \"deny\"")
		return
	}

	h.gate.Resolve(toolUseID, decision)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
