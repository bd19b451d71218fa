// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, answers
	ColorTealPrimary = lipgloss.Color("#20B9B4") // brand, assistant label
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text
	ColorFog         = lipgloss.Color("#8FA9B0") // reasoning text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Reasoning      lipgloss.Style
	ReasoningBox   lipgloss.Style
	Answer         lipgloss.Style
	ErrorBox       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(ColorWarning),
	AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Reasoning:      lipgloss.NewStyle().Italic(true).Foreground(ColorFog),
	ReasoningBox: lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(ColorTealDeep).
		PaddingLeft(1),
	Answer: lipgloss.NewStyle(),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a single status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon in its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Line Output
// =============================================================================

// Out and ErrOut are where the line helpers write. Tests swap them.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

// Title prints a heading. Machine mode prints nothing.
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Out, Styles.Title.Render(text))
}

// Success prints a success line.
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Out, "OK: %s\n", text)
	default:
		fmt.Fprintf(Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning line.
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(ErrOut, "WARN: %s\n", text)
	default:
		fmt.Fprintf(Out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error line.
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(ErrOut, "ERROR: %s\n", text)
	default:
		fmt.Fprintf(Out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational line.
func Info(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintln(Out, text)
	default:
		fmt.Fprintf(Out, "%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// KeyValue prints an aligned key/value pair.
func KeyValue(key, value string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Out, "%s=%s\n", key, value)
		return
	}
	fmt.Fprintf(Out, "  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-14s", key)), value)
}
