// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/celervus/pkg/ux"
	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
)

const chatHelp = "enter send • ctrl+x stop • ctrl+r reasoning • pgup/pgdn scroll • esc quit"

// =============================================================================
// Messages
// =============================================================================

// conversationChangedMsg is sent after any conversation mutation.
type conversationChangedMsg struct{}

// =============================================================================
// Model
// =============================================================================

// chatModel is the bubbletea model for the interactive chat.
//
// # Description
//
// The model never mutates the conversation itself: it submits through the
// session and re-renders a snapshot whenever the conversation notifies.
// The stream runs on the session's goroutine.
//
// # Thread Safety
//
// Single-threaded inside the bubbletea event loop. The only cross-goroutine
// link is the updates channel fed by Conversation.Subscribe.
type chatModel struct {
	ctx     context.Context
	session *ux.ChatSession
	updates chan struct{}

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	opts     ux.RenderOptions
	ready    bool
	notice   string
	quitting bool
}

func newChatModel(ctx context.Context, session *ux.ChatSession) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about the knowledge graph"
	ti.Prompt = "› "
	ti.CharLimit = datatypes.MaxQueryBytes
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ux.Styles.Muted

	// Buffered by one: a pending signal already covers later changes.
	updates := make(chan struct{}, 1)
	session.Conversation().Subscribe(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	return chatModel{
		ctx:     ctx,
		session: session,
		updates: updates,
		input:   ti,
		spinner: sp,
		opts:    ux.RenderOptions{Level: ux.PersonalityFull},
	}
}

func (m chatModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.updates:
			return conversationChangedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// Init implements tea.Model.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForChange())
}

// Update implements tea.Model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - 3
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.opts.Width = msg.Width
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.session.Close()
			m.quitting = true
			return m, tea.Quit

		case "ctrl+x":
			// The stream's error callback marks the open answer failed.
			m.session.Cancel()
			return m, nil

		case "ctrl+r":
			m.opts.ExpandReasoning = !m.opts.ExpandReasoning
			m.refresh()
			return m, nil

		case "enter":
			m.submit()
			return m, nil

		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case conversationChangedMsg:
		m.refresh()
		cmds = append(cmds, m.waitForChange())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.session.Conversation().InFlight() {
			m.refresh()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit sends the input line. Rejections are shown as a notice and leave
// the input in place.
func (m *chatModel) submit() {
	_, _, err := m.session.SendAsync(m.ctx, m.input.Value())
	if err != nil {
		m.notice = err.Error()
		return
	}
	m.notice = ""
	m.input.Reset()
	m.refresh()
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	opts := m.opts
	opts.TypingIndicator = m.spinner.View() + " thinking"
	m.viewport.SetContent(ux.RenderConversation(m.session.Conversation().Messages(), opts))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m chatModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading...\n"
	}

	footer := ux.Styles.Muted.Render(chatHelp)
	if m.notice != "" {
		footer = ux.Styles.Warning.Render(m.notice)
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(footer)
	return b.String()
}

// runChatTUI runs the full-screen chat until the user quits.
func runChatTUI(ctx context.Context, session *ux.ChatSession) error {
	p := tea.NewProgram(newChatModel(ctx, session), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
