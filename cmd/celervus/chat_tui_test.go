// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/celervus/pkg/ux"
)

// blockingStreamer sends one chunk and then waits for cancellation.
type blockingStreamer struct {
	started   chan struct{}
	cancelled chan struct{}
}

func newBlockingStreamer() *blockingStreamer {
	return &blockingStreamer{started: make(chan struct{}), cancelled: make(chan struct{})}
}

func (b *blockingStreamer) Open(ctx context.Context, _ ux.QueryRequest, h ux.StreamHandler) error {
	h.OnChunk("Thinking about it\n")
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	h.OnError(ctx.Err())
	return ctx.Err()
}

func sized(t *testing.T, m chatModel) chatModel {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(chatModel)
}

func press(m chatModel, key tea.KeyMsg) (chatModel, tea.Cmd) {
	next, cmd := m.Update(key)
	return next.(chatModel), cmd
}

func TestChatModel_Loading(t *testing.T) {
	m := newChatModel(context.Background(), ux.NewChatSession(nil, &scriptedStreamer{}))
	assert.Equal(t, "Loading...\n", m.View())

	m = sized(t, m)
	assert.True(t, m.ready)
	assert.Contains(t, m.View(), chatHelp)
}

func TestChatModel_SubmitAndRender(t *testing.T) {
	s := &scriptedStreamer{chunks: []string{"Checked the graph.\n", "Final Answer: Go"}}
	session := ux.NewChatSession(nil, s)
	m := sized(t, newChatModel(context.Background(), session))

	m.input.SetValue("which topics?")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.input.Value(), "input cleared after a submit")

	require.Eventually(t, func() bool { return !session.Conversation().InFlight() }, time.Second, 10*time.Millisecond)
	next, _ := m.Update(conversationChangedMsg{})
	m = next.(chatModel)

	view := m.View()
	assert.Contains(t, view, "which topics?")
	assert.Contains(t, view, "Go")
	assert.NotContains(t, view, "Checked the graph.", "reasoning collapsed by default")

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.True(t, m.opts.ExpandReasoning)
	assert.Contains(t, m.View(), "Checked the graph.")
}

func TestChatModel_RejectsEmptyInput(t *testing.T) {
	s := &scriptedStreamer{}
	m := sized(t, newChatModel(context.Background(), ux.NewChatSession(nil, s)))

	m.input.SetValue("   ")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, ux.ErrEmptyInput.Error(), m.notice)
	assert.Contains(t, m.View(), ux.ErrEmptyInput.Error())
	assert.Empty(t, s.questions)
}

func TestChatModel_SingleTurnInFlight(t *testing.T) {
	b := newBlockingStreamer()
	session := ux.NewChatSession(nil, b)
	m := sized(t, newChatModel(context.Background(), session))

	m.input.SetValue("first")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	<-b.started

	m.input.SetValue("second")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ux.ErrTurnInFlight.Error(), m.notice)
	assert.Equal(t, "second", m.input.Value(), "rejected input is kept")
	assert.Equal(t, 2, session.Conversation().Len())

	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())

	select {
	case <-b.cancelled:
	case <-time.After(time.Second):
		t.Fatal("quitting did not cancel the stream")
	}
}

func TestChatModel_StopKeepsSessionOpen(t *testing.T) {
	b := newBlockingStreamer()
	session := ux.NewChatSession(nil, b)
	m := sized(t, newChatModel(context.Background(), session))

	m.input.SetValue("first")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	<-b.started

	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Nil(t, cmd)
	assert.False(t, m.quitting)

	select {
	case <-b.cancelled:
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the stream")
	}
	require.Eventually(t, func() bool { return !session.Conversation().InFlight() }, time.Second, 10*time.Millisecond)

	msgs := session.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ux.StatusFailed, msgs[1].Status)
	assert.Equal(t, "Thinking about it\n", msgs[1].RawText)
	require.NotEmpty(t, msgs[1].ErrorDetail)

	next, _ := m.Update(conversationChangedMsg{})
	m = next.(chatModel)
	assert.Contains(t, m.View(), msgs[1].ErrorDetail)
}

func TestChatModel_WaitForChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := newChatModel(ctx, ux.NewChatSession(nil, &scriptedStreamer{chunks: []string{"Final Answer: x"}}))

	wait := m.waitForChange()
	_, err := m.session.Send(ctx, "q")
	require.NoError(t, err)
	assert.IsType(t, conversationChangedMsg{}, wait())

	cancel()
	for len(m.updates) > 0 {
		<-m.updates
	}
	assert.Nil(t, m.waitForChange()())
}
