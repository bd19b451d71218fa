// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel controls how much decoration the CLI prints.
type PersonalityLevel string

const (
	// PersonalityFull uses colors, boxes and the interactive chat UI.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityMinimal keeps colors but drops the interactive UI.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine prints plain, parseable lines only.
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality is the active output configuration.
type Personality struct {
	Level PersonalityLevel

	// ExpandReasoning shows reasoning regions instead of a collapsed summary.
	ExpandReasoning bool
}

var (
	currentPersonality = Personality{Level: PersonalityFull}
	personalityMu      sync.RWMutex
)

// GetPersonality returns the active personality.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality replaces the active personality.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// ParsePersonalityLevel maps user input to a level. Unknown values map to
// PersonalityFull.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "plain":
		return PersonalityMachine
	default:
		return PersonalityFull
	}
}

// InitPersonality picks a level from CELERVUS_PERSONALITY, falling back to
// machine mode when stdout is not a terminal.
func InitPersonality() {
	p := GetPersonality()
	switch {
	case os.Getenv("CELERVUS_PERSONALITY") != "":
		p.Level = ParsePersonalityLevel(os.Getenv("CELERVUS_PERSONALITY"))
	case !IsTerminal(os.Stdout.Fd()):
		p.Level = PersonalityMachine
	default:
		p.Level = PersonalityFull
	}
	SetPersonality(p)
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether the full-screen chat UI should be used.
func IsInteractive() bool {
	return GetPersonality().Level == PersonalityFull && IsTerminal(os.Stdout.Fd())
}
