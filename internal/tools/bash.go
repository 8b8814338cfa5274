// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
)

type bashInput struct {
	Command string `json:"command"`
}

// dangerousCommandMarkers are substrings that earn a stderr warning without
// blocking execution; the sandbox is the operator's own workstation, so
// policy here is advisory, not enforced.
var dangerousCommandMarkers = []string{"rm -rf /", "sudo ", ":(){:|:&};:", "mkfs.", "dd if="}

// bash runs Command under a PTY (so interactive and ANSI-producing tools
// behave as they would in a real terminal) within a bounded timeout,
// killing the process group if it runs over.
func (e *Executor) bash(ctx context.Context, raw json.RawMessage, cwd string) Result {
	var in bashInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("Bash: invalid input: %v", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return errorResult("Bash: empty command")
	}

	var warning string
	for _, marker := range dangerousCommandMarkers {
		if strings.Contains(in.Command, marker) {
			warning = "warning: command resembles a destructive operation; proceeding anyway\n"
			break
		}
	}

	timeout := time.Duration(e.policy.BashTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("bash", "-lc", in.Command)
	cmd.Dir = cwd

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return errorResult("Bash: %v", err)
	}
	defer ptmx.Close()

	outputDone := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(ptmx)
		outputDone <- string(data)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var output string
	var runErr error
	select {
	case runErr = <-waitErr:
		output = <-outputDone
	case <-runCtx.Done():
		if cmd.Process != nil {
			// pty.Start runs bash as a session leader, so its pid is the
			// process-group id.
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-waitErr
		output = <-outputDone
		runErr = runCtx.Err()
	}

	content := warning + output
	if runCtx.Err() != nil {
		return Result{Content: content + "\n[bash: timed out]", IsError: true}
	}
	if runErr != nil {
		return Result{Content: content, IsError: true}
	}
	return Result{Content: content}
}
