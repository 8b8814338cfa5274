// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

type editInput struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (e *Executor) edit(raw json.RawMessage, cwd string) Result {
	var in editInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("Edit: invalid input: %v", err)
	}

	path, err := resolvePath(in.FilePath, cwd, e.policy)
	if err != nil {
		return errorResult("Edit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult("Edit: %v", err)
	}
	content := string(data)

	occurrences := strings.Count(content, in.OldString)
	switch {
	case occurrences == 0:
		return errorResult("Edit: old_string not found in %s", in.FilePath)
	case occurrences > 1 && !in.ReplaceAll:
		return errorResult("Edit: old_string matches %d times in %s; must match exactly once, or set replace_all", occurrences, in.FilePath)
	}

	var updated string
	if in.ReplaceAll {
		updated = strings.ReplaceAll(content, in.OldString, in.NewString)
	} else {
		updated = strings.Replace(content, in.OldString, in.NewString, 1)
	}

	if err := atomicWriteFile(path, []byte(updated), 0o644); err != nil {
		return errorResult("Edit: %v", err)
	}

	diff := unifiedDiff(in.FilePath, content, updated)
	return Result{Content: fmt.Sprintf("ok\n%s", diff)}
}

// unifiedDiff renders a standard unified diff between before and after,
// suppressing the header when difflib finds no changes (shouldn't happen
// for a successful edit, but keeps this safe to reuse for MultiEdit).
func unifiedDiff(path, before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}
