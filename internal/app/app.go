// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires every broker component into one long-lived process:
// config, the provider registry, the session broker, the on-disk session
// index, and the boundary API server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/agentbroker/internal/api"
	"github.com/wingedpig/agentbroker/internal/broker"
	"github.com/wingedpig/agentbroker/internal/config"
	"github.com/wingedpig/agentbroker/internal/events"
	"github.com/wingedpig/agentbroker/internal/provider/agentloop"
	"github.com/wingedpig/agentbroker/internal/provider/claudecli"
	"github.com/wingedpig/agentbroker/internal/provider/shim"
	"github.com/wingedpig/agentbroker/internal/registry"
	"github.com/wingedpig/agentbroker/internal/sessionindex"
	"github.com/wingedpig/agentbroker/internal/shimagent"
	"github.com/wingedpig/agentbroker/internal/tools"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	eventBus     events.EventBus
	registry     *registry.Registry
	broker       *broker.Broker
	index        *sessionindex.Index
	approvalGate shimagent.ApprovalGate
	apiServer    *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.config = cfg

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 10000,
		HistoryMaxAge:    24 * time.Hour,
	})

	return app, nil
}

// permissionModeFor maps the configured approval policy onto shimagent's
// permission mode vocabulary.
func permissionModeFor(policy string) shimagent.PermissionMode {
	switch policy {
	case "auto-approve":
		return shimagent.PermissionAuto
	case "deny-all":
		return shimagent.PermissionDeny
	default:
		return shimagent.PermissionInteractive
	}
}

// buildAdapters constructs one broker.ProviderAdapter per configured
// provider: the native `claude` CLI adapter, or (for every other provider)
// Mode A's ShimDriver or Mode B's ShimAgentLoop wiring, per ShimModeOrDefault.
func (app *App) buildAdapters(cfg *config.Config, executor *tools.Executor) map[string]broker.ProviderAdapter {
	adapters := make(map[string]broker.ProviderAdapter, len(cfg.Providers))
	mode := permissionModeFor(cfg.Shim.ApprovalPolicy)

	for _, pc := range cfg.Providers {
		if pc.Name == "claude" {
			adapters[pc.Name] = claudecli.New(pc, cfg.Limits.DefaultPermissionMode)
			continue
		}

		switch pc.ShimModeOrDefault() {
		case "agent":
			adapters[pc.Name] = agentloop.New(pc, agentloop.Config{
				Executor:      executor,
				Approvals:     app.approvalGate,
				MaxIterations: cfg.Shim.MaxIterations,
				DefaultMode:   mode,
				CallTimeout:   cfg.Limits.BashTimeoutOrDefault(),
			})
		default:
			adapters[pc.Name] = shim.New(pc)
		}
	}

	return adapters
}

// Initialize sets up every broker component.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	app.registry = registry.New(cfg.Limits.MaxConcurrentSessions, cfg.Limits.KillTimeoutOrDefault())
	app.approvalGate = shimagent.NewChannelApprovalGate()

	executor := tools.New(tools.Policy{
		AdditionalRoots:    app.sandboxRoots(cfg),
		OutputCapBytes:     cfg.Limits.ToolOutputCapBytesOrDefault(),
		BashTimeoutSeconds: int(cfg.Limits.BashTimeoutOrDefault().Seconds()),
	})

	adapters := app.buildAdapters(cfg, executor)
	app.broker = broker.New(app.registry, app.eventBus, adapters,
		broker.WithMaxLineBytes(cfg.Limits.MaxLineBytesOrDefault()),
	)

	indexPath := filepath.Join(filepath.Dir(app.configPath), ".agentbroker", "index.json")
	var parsers []sessionindex.Parser
	if root := cfg.Sandbox.NativeSessionsRoot; root != "" {
		parsers = append(parsers, sessionindex.NewNativeParser(root))
	}
	if shimRoot := cfg.Sandbox.ShimSessionsRoot; shimRoot != "" {
		for _, pc := range cfg.Providers {
			if pc.Name == "claude" {
				continue
			}
			parsers = append(parsers, sessionindex.NewShimParser(pc.Name, filepath.Join(shimRoot, pc.Name)))
		}
	}
	idx, err := sessionindex.New(indexPath, parsers...)
	if err != nil {
		return fmt.Errorf("failed to initialize session index: %w", err)
	}
	app.index = idx

	if err := app.index.Rebuild(ctx); err != nil {
		log.Printf("Warning: initial session index rebuild failed: %v", err)
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Broker:   app.broker,
		Index:    app.index,
		Events:   app.eventBus,
		Approval: app.approvalGate,
		Version:  app.version,
	})

	return nil
}

// sandboxRoots collects every filesystem root ToolExecutor is allowed to
// touch beyond a session's own working directory.
func (app *App) sandboxRoots(cfg *config.Config) []string {
	roots := append([]string{}, cfg.Sandbox.AdditionalRoots...)
	if cfg.Sandbox.NativeSessionsRoot != "" {
		roots = append(roots, cfg.Sandbox.NativeSessionsRoot)
	}
	if cfg.Sandbox.ShimSessionsRoot != "" {
		roots = append(roots, cfg.Sandbox.ShimSessionsRoot)
	}
	return roots
}

// Start begins background work: the session index sweep/watch loops and
// the boundary API server.
func (app *App) Start(ctx context.Context) error {
	go app.index.RunSweepLoop(ctx)
	if err := app.index.WatchRoots(ctx); err != nil {
		log.Printf("Warning: failed to watch session roots: %v", err)
	}

	go func() {
		log.Printf("Starting API server on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()

	return nil
}

// Run starts the app and blocks until a shutdown signal arrives.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down every component.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.eventBus != nil {
		if err := app.eventBus.Close(); err != nil {
			log.Printf("Error closing event bus: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
