// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package streamjson

import (
	"encoding/json"
	"strconv"
	"unicode/utf8"
)

// DefaultMaxLineBytes is the default framing overflow threshold (spec §4.1).
const DefaultMaxLineBytes = 100 * 1024

// Diagnostic is an internal parse-error record. Per spec §4.1 these are not
// surfaced to clients; callers that want them (for logging) can pass an
// OnDiagnostic option.
type Diagnostic struct {
	Offset int64
	Reason string
}

type parserMode int

const (
	modeSkipWhitespace parserMode = iota
	modeSkipLine
	modeInObject
	modeAwaitingTerminator
)

// Parser is a total, allocation-conscious framing state machine over
// arbitrary byte chunks from a child process's stdout. It never blocks,
// never panics on malformed input, and its output for a given byte
// sequence does not depend on how that sequence was chunked (spec §8 P8).
type Parser struct {
	maxLineBytes int
	onDiagnostic func(Diagnostic)

	mode    parserMode
	cur     []byte
	depth   int
	inQuote bool
	escaped bool
	offset  int64
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxLineBytes overrides the framing-overflow threshold.
func WithMaxLineBytes(n int) Option {
	return func(p *Parser) { p.maxLineBytes = n }
}

// WithDiagnostics registers a callback for non-surfaced parse-error
// diagnostics (spec §4.1 "Failure modes").
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(p *Parser) { p.onDiagnostic = fn }
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...Option) *Parser {
	p := &Parser{maxLineBytes: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parser) diag(reason string) {
	if p.onDiagnostic != nil {
		p.onDiagnostic(Diagnostic{Offset: p.offset, Reason: reason})
	}
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Feed consumes a byte chunk and returns any CanonicalEvents completed by
// it, in emission order. A malformed object never corrupts the objects
// that follow it (spec §4.1 validation rules).
func (p *Parser) Feed(chunk []byte) []CanonicalEvent {
	var events []CanonicalEvent

	i := 0
	for i < len(chunk) {
		b := chunk[i]
		p.offset++

		switch p.mode {
		case modeSkipWhitespace:
			if isWhitespace(b) {
				i++
				continue
			}
			if b == '{' {
				p.mode = modeInObject
				p.depth = 1
				p.inQuote = false
				p.escaped = false
				p.cur = append(p.cur[:0], b)
				i++
				continue
			}
			// Unexpected byte: skip to next newline, record a diagnostic.
			p.diag("expected '{'")
			p.mode = modeSkipLine
			// fall through without advancing i's semantics further; continue loop

		case modeSkipLine:
			if b == '\n' {
				p.mode = modeSkipWhitespace
			}
			i++
			continue

		case modeInObject:
			p.cur = append(p.cur, b)
			if p.inQuote {
				if p.escaped {
					p.escaped = false
				} else if b == '\\' {
					p.escaped = true
				} else if b == '"' {
					p.inQuote = false
				}
			} else {
				switch b {
				case '"':
					p.inQuote = true
				case '{':
					p.depth++
				case '}':
					p.depth--
					if p.depth == 0 {
						p.mode = modeAwaitingTerminator
					}
				}
			}

			if len(p.cur) > p.maxLineBytes {
				if ev, ok := p.finalizeOverflow(); ok {
					events = append(events, ev)
				}
			}
			i++
			continue

		case modeAwaitingTerminator:
			if b == '$' || b == '\n' || b == '\r' {
				if ev, ok := p.finalize(); ok {
					events = append(events, ev)
				}
				p.mode = modeSkipWhitespace
				i++
				continue
			}
			// No explicit terminator: finalize anyway and reprocess this byte
			// as the start of whatever comes next, rather than corrupting it.
			if ev, ok := p.finalize(); ok {
				events = append(events, ev)
			}
			p.mode = modeSkipWhitespace
			continue // reprocess b without advancing i
		}
	}

	return events
}

// Finish flushes any object that was waiting only on a terminator (EOF
// counts as a valid terminator per spec §4.1). An object left incomplete
// (unbalanced braces) at EOF is dropped with a diagnostic; it is, by
// definition, not well-formed.
func (p *Parser) Finish() []CanonicalEvent {
	var events []CanonicalEvent
	switch p.mode {
	case modeAwaitingTerminator:
		if ev, ok := p.finalize(); ok {
			events = append(events, ev)
		}
	case modeInObject:
		if len(p.cur) > 0 {
			p.diag("truncated object at eof")
		}
		p.cur = nil
	}
	p.mode = modeSkipWhitespace
	return events
}

// finalize decodes the accumulated object bytes into a CanonicalEvent.
func (p *Parser) finalize() (CanonicalEvent, bool) {
	data := sanitizeUTF8(p.cur)
	p.cur = nil
	if len(data) == 0 {
		return CanonicalEvent{}, false
	}
	event, err := UnmarshalCanonicalEvent(data)
	if err != nil {
		p.diag("json decode: " + err.Error())
		return CanonicalEvent{}, false
	}
	return event, true
}

// finalizeOverflow handles a line exceeding maxLineBytes: per spec §4.1 it
// processes the pending buffer best-effort (it is very unlikely to be a
// syntactically complete object, since overflow fires mid-object) and
// drops it, surfacing a framing_overflow canonical error event rather than
// silently truncating.
func (p *Parser) finalizeOverflow() (CanonicalEvent, bool) {
	dropped := len(p.cur)
	// Best-effort: the buffer might already be a complete, oversized-but-valid
	// object if maxLineBytes was set unusually small; try it before dropping.
	if p.depth == 0 {
		if data := sanitizeUTF8(p.cur); len(data) > 0 {
			if event, err := UnmarshalCanonicalEvent(data); err == nil {
				p.cur = nil
				p.mode = modeSkipWhitespace
				return event, true
			}
		}
	}

	p.cur = nil
	p.mode = modeSkipLine
	p.inQuote = false
	p.escaped = false
	p.depth = 0
	return CanonicalEvent{
		Type:    KindError,
		Code:    ErrCodeFramingOverflow,
		Message: "framing buffer exceeded maxLineBytes; bytes dropped",
		Extra: map[string]json.RawMessage{
			"bytes_dropped": json.RawMessage(strconv.Itoa(dropped)),
		},
	}, true
}

// sanitizeUTF8 replaces invalid UTF-8 byte sequences with U+FFFD, per
// spec §4.1's validation rules, before handing the bytes to encoding/json.
func sanitizeUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			out = append(out, string(utf8.RuneError)...)
			b = b[1:]
			continue
		}
		out = append(out, b[:size]...)
		b = b[size:]
	}
	return out
}
