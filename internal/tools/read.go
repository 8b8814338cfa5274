// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

type readInput struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset,omitempty"` // 1-based line to start at; 0 means start of file
	Limit    int    `json:"limit,omitempty"`  // max lines to return; 0 means no limit
}

func (e *Executor) read(raw json.RawMessage, cwd string) Result {
	var in readInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("Read: invalid input: %v", err)
	}

	path, err := resolvePath(in.FilePath, cwd, e.policy)
	if err != nil {
		return errorResult("Read: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return errorResult("Read: %v", err)
	}
	defer f.Close()

	start := in.Offset
	if start < 1 {
		start = 1
	}

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	emitted := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < start {
			continue
		}
		if in.Limit > 0 && emitted >= in.Limit {
			break
		}
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return errorResult("Read: %v", err)
	}

	return Result{Content: b.String()}
}
