// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sections splits narrated answer text into a reasoning region and
// an answer region.
//
// The split is driven by a fixed, ordered list of answer-start prefixes.
// The same list is used by the server when it instructs the narration model
// and when it writes fallback narrations, so both sides of the stream agree
// on where the answer begins.
package sections

import (
	"strings"
)

// DefaultPrefixes is the ordered list of answer-start markers.
//
// Matching is case-sensitive and checked against the start of each trimmed
// line. Earlier entries win when more than one prefix matches.
var DefaultPrefixes = []string{
	"Final Answer:",
	"Final answer:",
	"Partial answer:",
	"Answer:",
}

// Sections is the parsed view of a response.
//
// # Description
//
// Reasoning holds the lines before the first answer marker. Answer holds the
// marker's remainder (when non-empty) and every later line. When no marker
// is present the whole text is returned as Answer and Structured is false,
// so free-form replies still render as plain text.
type Sections struct {
	Reasoning  []string `json:"reasoning"`
	Answer     []string `json:"answer"`
	Structured bool     `json:"structured"`
}

// Empty reports whether neither region holds a line.
func (s Sections) Empty() bool {
	return len(s.Reasoning) == 0 && len(s.Answer) == 0
}

// Parser matches answer-start markers from a fixed prefix list.
//
// # Thread Safety
//
// Parser is immutable after construction and safe for concurrent use.
type Parser struct {
	prefixes []string
}

// NewParser creates a Parser over the given prefixes, in priority order.
//
// # Description
//
// Empty prefixes are ignored since they would match every line. With no
// usable prefixes every input parses as unstructured.
//
// # Examples
//
//	p := sections.NewParser("Answer:", "A:")
//	s := p.Parse("thinking\nA: yes")
func NewParser(prefixes ...string) *Parser {
	kept := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return &Parser{prefixes: kept}
}

var defaultParser = NewParser(DefaultPrefixes...)

// Parse splits raw using DefaultPrefixes.
func Parse(raw string) Sections {
	return defaultParser.Parse(raw)
}

// Parse splits raw into reasoning and answer regions.
//
// # Description
//
// Parse is a pure function over its input and is total: every string,
// including the empty string, yields a well-formed Sections. It holds no
// state between calls, so callers re-run it over the full accumulated text
// on every chunk.
//
// # Inputs
//
//   - raw: Accumulated response text, possibly ending mid-line.
//
// # Outputs
//
//   - Sections: Lines classified into Reasoning and Answer. Blank lines are
//     dropped; no other line is lost or duplicated.
//
// # Examples
//
//	s := Parse("Here is some reasoning.\nFinal answer: 42")
//	// s.Reasoning == []string{"Here is some reasoning."}
//	// s.Answer    == []string{"42"}
//	// s.Structured == true
//
// # Limitations
//
//   - Cost is linear in len(raw); re-parsing on every chunk is quadratic in
//     the number of chunks, which callers bound by capping the raw text.
func (p *Parser) Parse(raw string) Sections {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return Sections{Reasoning: []string{}, Answer: []string{}}
	}

	reasoning := make([]string, 0, len(lines))
	answer := make([]string, 0, len(lines))
	inAnswer := false

	for _, line := range lines {
		if inAnswer {
			answer = append(answer, line)
			continue
		}
		rest, ok := p.matchPrefix(strings.TrimSpace(line))
		if !ok {
			reasoning = append(reasoning, line)
			continue
		}
		inAnswer = true
		if rest = strings.TrimSpace(rest); rest != "" {
			answer = append(answer, rest)
		}
	}

	if !inAnswer {
		// No marker: the text is not using the protocol, show it all.
		return Sections{Reasoning: []string{}, Answer: reasoning}
	}
	return Sections{Reasoning: reasoning, Answer: answer, Structured: true}
}

// matchPrefix returns the remainder after the first matching prefix.
func (p *Parser) matchPrefix(trimmed string) (string, bool) {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return trimmed[len(prefix):], true
		}
	}
	return "", false
}

// splitLines splits on '\n', strips a trailing '\r' and drops blank lines.
func splitLines(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "\n")
	out := make([]string, 0, len(parts))
	for _, line := range parts {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// FormatAnswer returns text as an answer line using the highest-priority
// marker. The result always parses as a structured answer.
func FormatAnswer(text string) string {
	return DefaultPrefixes[0] + " " + strings.TrimSpace(text)
}

// Join renders a region back to text, one line per entry.
func Join(lines []string) string {
	return strings.Join(lines, "\n")
}
