// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/streamjson"
)

// SessionHandler exposes SessionBroker operations over HTTP/WebSocket:
// create/resume, send a turn (streamed over the session's WebSocket),
// interrupt, clear, and delete.
type SessionHandler struct {
	broker *broker.Broker
}

// NewSessionHandler builds a SessionHandler over b.
func NewSessionHandler(b *broker.Broker) *SessionHandler {
	return &SessionHandler{broker: b}
}

var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type createSessionRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	CWD      string `json:"cwd"`
}

// Create handles POST /api/v1/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.CWD == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "provider and cwd are required")
		return
	}

	rec := h.broker.CreateSession(req.Provider, req.Model, req.CWD)
	WriteJSON(w, http.StatusCreated, rec)
}

// Get handles GET /api/v1/sessions/{sessionId}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	rec, ok := h.broker.Get(sessionID)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Interrupt handles POST /api/v1/sessions/{sessionId}/interrupt.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if err := h.broker.Interrupt(r.Context(), sessionID); err != nil {
		writeBrokerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

// Clear handles POST /api/v1/sessions/{sessionId}/clear.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if err := h.broker.ClearSession(sessionID); err != nil {
		writeBrokerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Delete handles DELETE /api/v1/sessions/{sessionId}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if err := h.broker.DeleteSession(sessionID); err != nil {
		writeBrokerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeBrokerError(w http.ResponseWriter, err error) {
	if errors.Is(err, broker.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
}

// clientMessage is one inbound WebSocket message from the GUI client.
type clientMessage struct {
	Type    string `json:"type"` // "turn"
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}

// serverMessage is one outbound WebSocket message to the GUI client.
type serverMessage struct {
	Type  string                     `json:"type"` // "event", "error", "done"
	Event *streamjson.CanonicalEvent `json:"event,omitempty"`
	Error string                     `json:"error,omitempty"`
}

// WebSocket handles GET /api/v1/sessions/{sessionId}/ws: the GUI client
// subscribes to a session's canonical event stream and sends user turns
// over the same connection.
func (h *SessionHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if _, ok := h.broker.Get(sessionID); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}

	conn, err := sessionUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(msg serverMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	events, unsubscribe, err := h.broker.Subscribe(sessionID)
	if err != nil {
		writeJSON(serverMessage{Type: "error", Error: err.Error()})
		return
	}
	defer unsubscribe()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	readCh := make(chan clientMessage, 10)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, msgBytes, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if json.Unmarshal(msgBytes, &msg) == nil {
				readCh <- msg
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				writeJSON(serverMessage{Type: "done"})
				return
			}
			if err := writeJSON(serverMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		case msg := <-readCh:
			if msg.Type != "turn" {
				continue
			}
			if err := h.broker.SendMessage(context.Background(), sessionID, msg.Content, msg.Model); err != nil {
				log.Printf("api: send turn for session %s: %v", sessionID, err)
				writeJSON(serverMessage{Type: "error", Error: err.Error()})
			}
		case <-closed:
			return
		}
	}
}
