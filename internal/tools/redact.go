// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"fmt"
	"regexp"
)

// secretPatterns matches common secret shapes in tool output: provider API
// key prefixes, bearer tokens, PEM private-key headers, connection strings
// carrying embedded credentials, and long base64-shaped tokens.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{30,}`),
	regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`[A-Za-z0-9+/]{64,}={0,2}`),
	regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^:\s]+:[^@\s]+@[^\s]+`),
}

// redactionPrefixLen is how many leading characters of a matched secret are
// kept visible in the replacement marker, enough to identify which secret
// was redacted without reproducing it.
const redactionPrefixLen = 6

// redact scans content for secret-shaped substrings, replacing each with a
// `[REDACTED:<prefix>...]` marker, and reports how many replacements were
// made so the caller can emit a diagnostic.
func redact(content string) (redacted string, count int) {
	redacted = content
	for _, pattern := range secretPatterns {
		redacted = pattern.ReplaceAllStringFunc(redacted, func(match string) string {
			count++
			prefixLen := redactionPrefixLen
			if len(match) < prefixLen {
				prefixLen = len(match)
			}
			return fmt.Sprintf("[REDACTED:%s...]", match[:prefixLen])
		})
	}
	return redacted, count
}
