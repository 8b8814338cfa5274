// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// ErrMaxConcurrentSessions is returned by Spawn when the registry is at
// its configured session cap.
var ErrMaxConcurrentSessions = errors.New("registry: max concurrent sessions reached")

// ErrNotFound is returned when a run-id has no tracked handle.
var ErrNotFound = errors.New("registry: run-id not found")

// Registry owns every spawned provider CLI child process for the life of
// the broker. Spawn is idempotent per run-id: spawning over an existing
// run-id kills the previous child first.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle

	maxConcurrent int
	killTimeout   time.Duration
	sem           chan struct{} // nil when maxConcurrent == 0 (unlimited)
}

// New creates a Registry. maxConcurrent <= 0 means unlimited concurrent
// children. killTimeout bounds the graceful-SIGTERM wait before SIGKILL.
func New(maxConcurrent int, killTimeout time.Duration) *Registry {
	r := &Registry{
		handles:       make(map[string]*Handle),
		maxConcurrent: maxConcurrent,
		killTimeout:   killTimeout,
	}
	if maxConcurrent > 0 {
		r.sem = make(chan struct{}, maxConcurrent)
	}
	return r
}

// Spawn starts a child process for spec and tracks it under spec.RunID.
// If a handle already exists for that run-id, it is killed first (register
// is idempotent, never leaks the previous child).
func (r *Registry) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("registry: empty argv for run %s", spec.RunID)
	}

	if r.sem != nil {
		select {
		case r.sem <- struct{}{}:
		default:
			return nil, ErrMaxConcurrentSessions
		}
	}
	release := func() {
		if r.sem != nil {
			<-r.sem
		}
	}

	if existing, ok := r.lookup(spec.RunID); ok {
		r.killHandle(existing, r.killTimeout)
		r.unregister(spec.RunID)
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// A nil Env inherits the full parent environment (exec.Cmd's default).
	// A non-nil Env is used as-is: the caller (a ProviderAdapter) is
	// expected to have already built the filtered variable set the
	// environment policy requires, rather than layering onto os.Environ().
	if spec.Env != nil {
		cmd.Env = make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		release()
		return nil, fmt.Errorf("registry: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return nil, fmt.Errorf("registry: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		release()
		return nil, fmt.Errorf("registry: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		release()
		return nil, fmt.Errorf("registry: start %s: %w", filepath.Base(spec.Argv[0]), err)
	}

	h := newHandle(spec.RunID, filepath.Base(spec.Argv[0]), cmd, stdin)
	h.setRunning()

	r.mu.Lock()
	r.handles[spec.RunID] = h
	r.mu.Unlock()

	go captureOutput(h, stdout)
	go captureOutput(h, stderr)
	go r.waitForExit(h, release)

	return h, nil
}

// captureOutput drains a pipe into the handle's live-output ring buffer and
// fans each line out to any live SubscribeLines subscriber.
func captureOutput(h *Handle, r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			h.output.add(line)
			h.publishLine(line)
		}
		if err != nil {
			return
		}
	}
}

func (r *Registry) waitForExit(h *Handle, release func()) {
	err := h.cmd.Wait()
	defer release()

	var exitCode int
	crashed := false
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			crashed = exitCode != 0
		} else {
			exitCode = -1
			crashed = true
		}
	}

	h.mu.RLock()
	wasStopping := h.state == StateStopping
	h.mu.RUnlock()
	if wasStopping {
		crashed = false
	}

	h.setExited(exitCode, crashed)
	h.closeLineSubs()
	close(h.done)

	log.Printf("registry: run %s exited code=%d crashed=%v", h.runID, exitCode, crashed)
}

// Get returns the tracked handle for runID, if any.
func (r *Registry) Get(runID string) (*Handle, bool) {
	return r.lookup(runID)
}

func (r *Registry) lookup(runID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[runID]
	return h, ok
}

func (r *Registry) unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, runID)
}

// List returns a status snapshot of every tracked child.
func (r *Registry) List() []ProcessStatus {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	statuses := make([]ProcessStatus, len(handles))
	for i, h := range handles {
		statuses[i] = h.Status()
	}
	return statuses
}

// Kill stops the child tracked under runID: SIGTERM to its process group,
// a bounded wait, then SIGKILL to the group if it hasn't exited. Before
// signaling, it verifies via go-ps that the tracked pid is still the same
// process this registry started, guarding against a PID-reuse race after
// an external reap.
func (r *Registry) Kill(ctx context.Context, runID string) error {
	h, ok := r.lookup(runID)
	if !ok {
		return ErrNotFound
	}
	r.killHandle(h, r.killTimeout)
	r.unregister(runID)
	return nil
}

func (r *Registry) killHandle(h *Handle, timeout time.Duration) {
	if h.Status().State == StateStopped || h.Status().State == StateCrashed {
		return
	}
	h.setState(StateStopping)

	pid := h.PID()
	if !r.stillOurProcess(pid, h.execName) {
		// Already gone or pid recycled; nothing to signal.
		return
	}

	pgid, err := unix.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	_ = unix.Kill(-pgid, unix.SIGTERM)

	select {
	case <-h.Done():
		return
	case <-time.After(timeout):
	}

	if r.stillOurProcess(pid, h.execName) {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	<-h.Done()
}

// stillOurProcess verifies pid is still alive and still running the
// executable this registry spawned, rather than trusting a bare liveness
// check that could be fooled by the OS having recycled pid for an
// unrelated process after a crash-reap race.
func (r *Registry) stillOurProcess(pid int, execName string) bool {
	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return false
	}
	if execName == "" {
		return true
	}
	return proc.Executable() == execName
}

// SpawnBounded spawns multiple specs concurrently, running at most
// maxConcurrent Spawn calls at once (an unbounded errgroup if
// maxConcurrent is 0). It does not wait for a slot: a Spawn that finds the
// session cap full fails the whole call with ErrMaxConcurrentSessions.
// Used by callers warming multiple sessions at once
// (e.g. session-index rebuild priming recently-used sessions).
func (r *Registry) SpawnBounded(ctx context.Context, specs []Spec) ([]*Handle, error) {
	handles := make([]*Handle, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	if r.maxConcurrent > 0 {
		g.SetLimit(r.maxConcurrent)
	}
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			h, err := r.Spawn(gctx, spec)
			if err != nil {
				return err
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}
