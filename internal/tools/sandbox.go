// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath canonicalizes filePath relative to cwd (matching claudecli's
// ~/ and relative-path handling) and rejects it if it falls outside cwd or
// one of policy's additional roots.
func resolvePath(filePath, cwd string, policy Policy) (string, error) {
	if filePath == "" {
		return "", fmt.Errorf("empty path")
	}

	resolved := filePath
	if strings.HasPrefix(resolved, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			resolved = filepath.Join(home, resolved[2:])
		}
	} else if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cwd, resolved)
	}

	clean := filepath.Clean(resolved)

	roots := append([]string{cwd}, policy.AdditionalRoots...)
	for _, root := range roots {
		if root == "" {
			continue
		}
		cleanRoot := filepath.Clean(root)
		if clean == cleanRoot || strings.HasPrefix(clean, cleanRoot+string(filepath.Separator)) {
			return clean, nil
		}
	}

	return "", fmt.Errorf("path %q escapes the allowed sandbox roots", filePath)
}
