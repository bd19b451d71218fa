// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Submit Tests
// =============================================================================

func TestConversation_SubmitAppendsTurnPair(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	conv := NewConversation(WithClock(func() time.Time { return fixed }))

	turn, err := conv.Submit("  What topics exist?  ")
	require.NoError(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)

	assert.Equal(t, turn.UserID, msgs[0].ID)
	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, "What topics exist?", msgs[0].RawText)
	assert.Equal(t, StatusComplete, msgs[0].Status)

	assert.Equal(t, turn.AssistantID, msgs[1].ID)
	assert.Equal(t, SenderAssistant, msgs[1].Sender)
	assert.Equal(t, StatusStreaming, msgs[1].Status)
	assert.Empty(t, msgs[1].RawText)
	assert.Equal(t, fixed, msgs[1].CreatedAt)
	assert.Equal(t, "What topics exist?", turn.Question)
	assert.NotEqual(t, turn.UserID, turn.AssistantID)
}

func TestConversation_SubmitRejectsEmptyInput(t *testing.T) {
	conv := NewConversation()

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := conv.Submit(input)
		assert.ErrorIs(t, err, ErrEmptyInput, "input %q", input)
	}
	assert.Equal(t, 0, conv.Len())
}

func TestConversation_SubmitRejectsWhileInFlight(t *testing.T) {
	conv := NewConversation()
	turn, err := conv.Submit("first")
	require.NoError(t, err)
	conv.AppendChunk(turn.AssistantID, "partial")
	before := conv.Messages()

	_, err = conv.Submit("second")

	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Equal(t, before, conv.Messages())
	assert.True(t, conv.InFlight())
}

func TestConversation_SubmitAllowedAfterTerminal(t *testing.T) {
	conv := NewConversation()
	first, err := conv.Submit("first")
	require.NoError(t, err)
	conv.Complete(first.AssistantID)

	second, err := conv.Submit("second")
	require.NoError(t, err)
	conv.Fail(second.AssistantID, errors.New("x"))

	_, err = conv.Submit("third")
	require.NoError(t, err)
	assert.Equal(t, 6, conv.Len())
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestConversation_AppendChunkReparses(t *testing.T) {
	conv := NewConversation()
	turn, _ := conv.Submit("q")

	conv.AppendChunk(turn.AssistantID, "Thinking step A\n")
	conv.AppendChunk(turn.AssistantID, "Partial answer: draft\n")
	conv.AppendChunk(turn.AssistantID, "more text")
	conv.Complete(turn.AssistantID)

	m, ok := conv.Message(turn.AssistantID)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, m.Status)
	assert.Equal(t, []string{"Thinking step A"}, m.Sections.Reasoning)
	assert.Equal(t, []string{"draft", "more text"}, m.Sections.Answer)
	assert.True(t, m.Sections.Structured)
}

func TestConversation_TerminalMessagesAreImmutable(t *testing.T) {
	for _, terminate := range []struct {
		name string
		fn   func(c *Conversation, id string)
	}{
		{"complete", func(c *Conversation, id string) { c.Complete(id) }},
		{"fail", func(c *Conversation, id string) { c.Fail(id, errors.New("x")) }},
	} {
		t.Run(terminate.name, func(t *testing.T) {
			conv := NewConversation()
			turn, _ := conv.Submit("q")
			conv.AppendChunk(turn.AssistantID, "before")
			terminate.fn(conv, turn.AssistantID)
			frozen, _ := conv.Message(turn.AssistantID)

			conv.AppendChunk(turn.AssistantID, " after")
			conv.Complete(turn.AssistantID)
			conv.Fail(turn.AssistantID, errors.New("late"))

			got, _ := conv.Message(turn.AssistantID)
			assert.Equal(t, frozen, got)
			assert.Equal(t, "before", got.RawText)
		})
	}
}

func TestConversation_FailPreservesPartialText(t *testing.T) {
	conv := NewConversation()
	turn, _ := conv.Submit("q")
	conv.AppendChunk(turn.AssistantID, "one chunk")

	conv.Fail(turn.AssistantID, &TransportError{Kind: TransportBody, Err: errors.New("reset")})

	m, _ := conv.Message(turn.AssistantID)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, "one chunk", m.RawText)
	assert.Equal(t, "The connection was interrupted before the answer finished.", m.ErrorDetail)
	assert.Equal(t, []string{"one chunk"}, m.Sections.Answer)
}

func TestConversation_AppendChunkUnknownMessageIsNoop(t *testing.T) {
	conv := NewConversation()
	conv.AppendChunk("missing", "text")
	conv.Complete("missing")
	assert.Equal(t, 0, conv.Len())
}

func TestConversation_SizeCapFailsTurn(t *testing.T) {
	conv := NewConversation(WithMaxRawTextBytes(8))
	turn, _ := conv.Submit("q")

	conv.AppendChunk(turn.AssistantID, "abcdef")
	conv.AppendChunk(turn.AssistantID, "gé✓")

	m, _ := conv.Message(turn.AssistantID)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, "abcdefg", m.RawText)
	assert.LessOrEqual(t, len(m.RawText), 8)
	assert.Equal(t, UserMessage(ErrResponseTooLong), m.ErrorDetail)
	assert.False(t, conv.InFlight())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "", truncateRunes("abc", 0))
	assert.Equal(t, "ab", truncateRunes("ab", 5))
	assert.Equal(t, "a", truncateRunes("aé", 2))
	assert.Equal(t, "aé", truncateRunes("aé", 3))
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestConversation_MessagesReturnsCopies(t *testing.T) {
	conv := NewConversation()
	turn, _ := conv.Submit("q")
	conv.AppendChunk(turn.AssistantID, "Answer: a")

	snap := conv.Messages()
	snap[1].Sections.Answer[0] = "mutated"
	snap[1].RawText = "mutated"

	m, _ := conv.Message(turn.AssistantID)
	assert.Equal(t, "Answer: a", m.RawText)
	assert.Equal(t, []string{"a"}, m.Sections.Answer)
}

func TestConversation_SubscribeNotifies(t *testing.T) {
	conv := NewConversation()
	var calls atomic.Int32
	conv.Subscribe(func() { calls.Add(1) })

	turn, _ := conv.Submit("q")
	conv.AppendChunk(turn.AssistantID, strings.Repeat("x", 3))
	conv.Complete(turn.AssistantID)
	conv.Complete(turn.AssistantID)

	assert.Equal(t, int32(3), calls.Load())
}
