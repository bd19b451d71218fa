// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/celervus/pkg/sections"
)

// RenderOptions controls conversation rendering.
type RenderOptions struct {
	// Level selects styled or plain output.
	Level PersonalityLevel

	// ExpandReasoning shows reasoning lines instead of a one-line summary.
	ExpandReasoning bool

	// Width wraps styled output. Zero disables wrapping.
	Width int

	// TypingIndicator replaces the empty-placeholder text, e.g. a spinner
	// frame supplied by the interactive UI.
	TypingIndicator string
}

// RenderConversation renders every message in order.
//
// # Description
//
// Rendering is a pure function of the snapshot: it holds no state and
// performs no parsing beyond reading the already-parsed sections.
func RenderConversation(messages []Message, opts RenderOptions) string {
	blocks := make([]string, 0, len(messages))
	for _, m := range messages {
		blocks = append(blocks, RenderMessage(m, opts))
	}
	return strings.Join(blocks, "\n\n")
}

// RenderMessage renders a single message.
//
// # Description
//
// User messages print their text. Assistant messages print, in order:
//   - a typing indicator while nothing has parsed yet,
//   - the reasoning region (collapsed to a summary unless expanded),
//   - the answer region,
//   - the error detail when the message failed.
//
// A failed message keeps whatever text it received before the failure.
func RenderMessage(m Message, opts RenderOptions) string {
	plain := opts.Level == PersonalityMachine
	var b strings.Builder

	if m.Sender == SenderUser {
		b.WriteString(label("You", Styles.UserLabel, plain))
		b.WriteString(m.RawText)
		return wrap(b.String(), opts.Width, plain)
	}

	b.WriteString(label("Assistant", Styles.AssistantLabel, plain))
	s := m.Sections

	if s.Empty() {
		switch m.Status {
		case StatusPending, StatusStreaming:
			indicator := opts.TypingIndicator
			if indicator == "" {
				indicator = "…"
			}
			b.WriteString(styled(indicator, Styles.Muted, plain))
		case StatusComplete:
			b.WriteString(styled("(no answer)", Styles.Muted, plain))
		}
	}

	if len(s.Reasoning) > 0 {
		b.WriteString("\n")
		b.WriteString(renderReasoning(s.Reasoning, opts.ExpandReasoning, plain))
	}

	if len(s.Answer) > 0 {
		b.WriteString("\n")
		body := sections.Join(s.Answer)
		b.WriteString(styled(body, Styles.Answer, plain))
	}

	if m.Status == StatusFailed && m.ErrorDetail != "" {
		b.WriteString("\n")
		if plain {
			b.WriteString("ERROR: " + m.ErrorDetail)
		} else {
			b.WriteString(Styles.ErrorBox.Render(IconError.Render() + " " + m.ErrorDetail))
		}
	}

	return wrap(b.String(), opts.Width, plain)
}

func renderReasoning(lines []string, expand, plain bool) string {
	if !expand {
		summary := fmt.Sprintf("▸ reasoning (%d lines)", len(lines))
		if plain {
			return "[reasoning: " + fmt.Sprint(len(lines)) + " lines]"
		}
		return Styles.Muted.Render(summary)
	}
	body := sections.Join(lines)
	if plain {
		var b strings.Builder
		for i, l := range lines {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("> " + l)
		}
		return b.String()
	}
	return Styles.ReasoningBox.Render(Styles.Reasoning.Render(body))
}

func label(name string, style lipgloss.Style, plain bool) string {
	if plain {
		return name + ": "
	}
	return style.Render(name) + " "
}

func styled(text string, style lipgloss.Style, plain bool) string {
	if plain {
		return text
	}
	return style.Render(text)
}

func wrap(text string, width int, plain bool) string {
	if plain || width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}
