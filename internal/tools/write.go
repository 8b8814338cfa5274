// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type writeInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (e *Executor) write(raw json.RawMessage, cwd string) Result {
	var in writeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("Write: invalid input: %v", err)
	}

	path, err := resolvePath(in.FilePath, cwd, e.policy)
	if err != nil {
		return errorResult("Write: %v", err)
	}

	if err := atomicWriteFile(path, []byte(in.Content), 0o644); err != nil {
		return errorResult("Write: %v", err)
	}

	return Result{Content: "ok"}
}

// atomicWriteFile writes data to a temp file in path's directory, then
// renames it into place so readers never observe a partially written file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
