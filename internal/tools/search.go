// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type globInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// glob matches Pattern against file paths under Path (default cwd), sorted
// by name for deterministic output.
func (e *Executor) glob(raw json.RawMessage, cwd string) Result {
	var in globInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("Glob: invalid input: %v", err)
	}

	root := cwd
	if in.Path != "" {
		resolved, err := resolvePath(in.Path, cwd, e.policy)
		if err != nil {
			return errorResult("Glob: %v", err)
		}
		root = resolved
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		ok, matchErr := filepath.Match(in.Pattern, rel)
		if matchErr == nil && ok {
			matches = append(matches, rel)
			return nil
		}
		// Also try matching just the base name, so "*.go" matches nested files.
		if ok, err := filepath.Match(in.Pattern, filepath.Base(path)); err == nil && ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return errorResult("Glob: %v", err)
	}

	sort.Strings(matches)
	return Result{Content: strings.Join(matches, "\n")}
}

type grepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// grep searches text files under Path (default cwd) for lines matching the
// regular expression Pattern, reporting "path:line:text" per match.
func (e *Executor) grep(raw json.RawMessage, cwd string) Result {
	var in grepInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorResult("Grep: invalid input: %v", err)
	}

	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return errorResult("Grep: invalid pattern: %v", err)
	}

	root := cwd
	if in.Path != "" {
		resolved, err := resolvePath(in.Path, cwd, e.policy)
		if err != nil {
			return errorResult("Grep: %v", err)
		}
		root = resolved
	}

	var lines []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			text := scanner.Text()
			if re.MatchString(text) {
				lines = append(lines, fmt.Sprintf("%s:%d:%s", rel, lineNum, text))
			}
		}
		return nil
	})
	if err != nil {
		return errorResult("Grep: %v", err)
	}

	return Result{Content: strings.Join(lines, "\n")}
}

type lsInput struct {
	Path string `json:"path,omitempty"`
}

// ls lists the immediate contents of Path (default cwd), directories
// suffixed with "/".
func (e *Executor) ls(raw json.RawMessage, cwd string) Result {
	var in lsInput
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return errorResult("LS: invalid input: %v", err)
		}
	}

	root := cwd
	if in.Path != "" {
		resolved, err := resolvePath(in.Path, cwd, e.policy)
		if err != nil {
			return errorResult("LS: %v", err)
		}
		root = resolved
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return errorResult("LS: %v", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return Result{Content: strings.Join(names, "\n")}
}
