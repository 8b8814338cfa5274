// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/agentbroker/internal/api/handlers"
	"github.com/wingedpig/agentbroker/internal/api/middleware"
	"github.com/wingedpig/agentbroker/internal/api/version"
	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/events"
	"github.com/wingedpig/agentbroker/internal/sessionindex"
	"github.com/wingedpig/agentbroker/internal/shimagent"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Broker   *broker.Broker
	Index    *sessionindex.Index
	Events   events.EventBus
	Approval shimagent.ApprovalGate
	Version  string
}

// NewRouter builds the boundary API router: session lifecycle operations
// against Broker, index reads/maintenance against Index, and the
// operational event tail against Events.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	api := r.PathPrefix("/api/v1").Subrouter()

	sessionHandler := handlers.NewSessionHandler(deps.Broker)
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}", sessionHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionId}/ws", sessionHandler.WebSocket).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/interrupt", sessionHandler.Interrupt).Methods("POST")
	api.HandleFunc("/sessions/{sessionId}/clear", sessionHandler.Clear).Methods("POST")

	indexHandler := handlers.NewIndexHandler(deps.Index)
	api.HandleFunc("/sessions", indexHandler.ListRecentConversations).Methods("GET")
	api.HandleFunc("/sessions/{sessionId}/transcript", indexHandler.LoadSession).Methods("GET")
	api.HandleFunc("/projects", indexHandler.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{projectPath}/sessions", indexHandler.ListProjectSessions).Methods("GET")
	api.HandleFunc("/index/rebuild", indexHandler.Rebuild).Methods("POST")
	api.HandleFunc("/analytics", indexHandler.Analytics).Methods("GET")
	// Legacy alias: the native-Claude-only listing the original single-
	// provider GUI relied on, now a filtered view over the same index.
	api.HandleFunc("/claude/sessions", indexHandler.ListClaudeConversations).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.Events)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	if deps.Approval != nil {
		approvalHandler := handlers.NewApprovalHandler(deps.Approval)
		api.HandleFunc("/approvals/{toolUseId}", approvalHandler.Resolve).Methods("POST")
	}

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
// If TLS is configured (tls_cert and tls_key), uses HTTPS; CheckTLSConfig
// returns an error if the configured cert/key files don't exist.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
