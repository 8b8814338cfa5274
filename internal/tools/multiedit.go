// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"os"
	"strings"
)

type multiEditOp struct {
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

type multiEditInput struct {
	FilePath string        `json:"file_path"`
	Edits    []multiEditOp `json:"edits"`
}

// multiEdit applies a sequence of edits to one file all-or-nothing: every
// edit is validated and applied in memory before anything touches disk, so
// a failure partway through never leaves the file half-edited.
func (e *Executor) multiEdit(raw json.RawMessage, cwd string) Result {
	var in multiEditInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("MultiEdit: invalid input: %v", err)
	}
	if len(in.Edits) == 0 {
		return errorResult("MultiEdit: no edits given")
	}

	path, err := resolvePath(in.FilePath, cwd, e.policy)
	if err != nil {
		return errorResult("MultiEdit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult("MultiEdit: %v", err)
	}
	original := string(data)
	content := original

	for i, op := range in.Edits {
		occurrences := strings.Count(content, op.OldString)
		switch {
		case occurrences == 0:
			return errorResult("MultiEdit: edit %d: old_string not found", i)
		case occurrences > 1 && !op.ReplaceAll:
			return errorResult("MultiEdit: edit %d: old_string matches %d times; must match exactly once, or set replace_all", i, occurrences)
		}
		if op.ReplaceAll {
			content = strings.ReplaceAll(content, op.OldString, op.NewString)
		} else {
			content = strings.Replace(content, op.OldString, op.NewString, 1)
		}
	}

	if err := atomicWriteFile(path, []byte(content), 0o644); err != nil {
		return errorResult("MultiEdit: %v", err)
	}

	diff := unifiedDiff(in.FilePath, original, content)
	return Result{Content: "ok\n" + diff}
}
