// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/celervus/pkg/sections"
	"github.com/google/uuid"
)

// DefaultMaxRawTextBytes caps a single assistant message.
const DefaultMaxRawTextBytes = 256 * 1024

var (
	// ErrEmptyInput is returned by Submit when the text trims to nothing.
	ErrEmptyInput = errors.New("message is empty")

	// ErrTurnInFlight is returned by Submit while an answer is still open.
	ErrTurnInFlight = errors.New("a question is already being answered")

	// ErrResponseTooLong fails a turn whose text exceeds the size cap.
	ErrResponseTooLong = errors.New("response exceeds maximum size")
)

// =============================================================================
// Message Types
// =============================================================================

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Status is the lifecycle state of a message.
//
// Transitions only move forward:
//
//	pending -> streaming -> complete | failed
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Message is one entry in the conversation log.
type Message struct {
	ID          string            `json:"id"`
	Sender      Sender            `json:"sender"`
	RawText     string            `json:"raw_text"`
	Sections    sections.Sections `json:"sections"`
	Status      Status            `json:"status"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Turn identifies the pair of messages created by one Submit.
type Turn struct {
	UserID      string
	AssistantID string
	Question    string
}

// =============================================================================
// Conversation
// =============================================================================

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithMaxRawTextBytes overrides the per-message size cap.
func WithMaxRawTextBytes(n int) ConversationOption {
	return func(c *Conversation) {
		if n > 0 {
			c.maxRawBytes = n
		}
	}
}

// WithParser overrides the section parser.
func WithParser(p *sections.Parser) ConversationOption {
	return func(c *Conversation) {
		if p != nil {
			c.parser = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ConversationOption {
	return func(c *Conversation) {
		if now != nil {
			c.now = now
		}
	}
}

// Conversation is the in-memory, append-only message log for one session.
//
// # Description
//
// Conversation owns the turn invariants: each Submit appends a user message
// and its assistant placeholder together, at most one assistant message is
// open at a time, and a message's raw text never changes once it reaches a
// terminal status. Stream callbacks drive the placeholder through
// AppendChunk, Complete and Fail.
//
// # Thread Safety
//
// Safe for concurrent use. The lock exists because the rendering goroutine
// reads snapshots while the stream goroutine writes; turn admission is the
// explicit in-flight check in Submit, not the lock.
type Conversation struct {
	mu          sync.RWMutex
	messages    []*Message
	index       map[string]*Message
	maxRawBytes int
	parser      *sections.Parser
	now         func() time.Time
	listeners   []func()
}

// NewConversation creates an empty conversation.
func NewConversation(opts ...ConversationOption) *Conversation {
	c := &Conversation{
		index:       make(map[string]*Message),
		maxRawBytes: DefaultMaxRawTextBytes,
		parser:      sections.NewParser(sections.DefaultPrefixes...),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a new turn.
//
// # Description
//
// Validates text and appends the user message together with a streaming
// assistant placeholder. A rejected Submit leaves the conversation
// unchanged. Submissions are never queued.
//
// # Inputs
//
//   - text: The user's question. Surrounding whitespace is trimmed.
//
// # Outputs
//
//   - Turn: IDs of the two new messages.
//   - error: ErrEmptyInput or ErrTurnInFlight.
//
// # Examples
//
//	turn, err := conv.Submit("What topics exist?")
//	if errors.Is(err, ux.ErrTurnInFlight) {
//	    // wait for the current answer
//	}
func (c *Conversation) Submit(text string) (Turn, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return Turn{}, ErrEmptyInput
	}

	c.mu.Lock()
	for _, m := range c.messages {
		if m.Sender == SenderAssistant && !m.Status.Terminal() {
			c.mu.Unlock()
			return Turn{}, ErrTurnInFlight
		}
	}

	now := c.now()
	user := &Message{
		ID:        uuid.NewString(),
		Sender:    SenderUser,
		RawText:   question,
		Sections:  sections.Sections{Reasoning: []string{}, Answer: []string{question}},
		Status:    StatusComplete,
		CreatedAt: now,
	}
	assistant := &Message{
		ID:        uuid.NewString(),
		Sender:    SenderAssistant,
		Sections:  c.parser.Parse(""),
		Status:    StatusPending,
		CreatedAt: now,
	}
	assistant.Status = StatusStreaming

	c.messages = append(c.messages, user, assistant)
	c.index[user.ID] = user
	c.index[assistant.ID] = assistant
	c.mu.Unlock()

	c.notify()
	return Turn{UserID: user.ID, AssistantID: assistant.ID, Question: question}, nil
}

// AppendChunk adds streamed text to an open assistant message.
//
// # Description
//
// Appends text and re-parses the full raw text. Calls against an unknown
// or terminal message are logged and ignored. When the size cap would be
// exceeded the text is cut at a rune boundary and the message fails.
func (c *Conversation) AppendChunk(id, text string) {
	c.mu.Lock()
	m, ok := c.index[id]
	if !ok || m.Status != StatusStreaming {
		c.mu.Unlock()
		slog.Warn("Ignoring chunk for message that is not streaming",
			"message_id", id,
			"known", ok,
		)
		return
	}

	overflow := false
	if remaining := c.maxRawBytes - len(m.RawText); len(text) > remaining {
		text = truncateRunes(text, remaining)
		overflow = true
	}
	m.RawText += text
	m.Sections = c.parser.Parse(m.RawText)
	if overflow {
		m.Status = StatusFailed
		m.ErrorDetail = UserMessage(ErrResponseTooLong)
	}
	c.mu.Unlock()

	if overflow {
		slog.Warn("Assistant message exceeded size cap", "message_id", id, "max_bytes", c.maxRawBytes)
	}
	c.notify()
}

// Complete marks an open assistant message as complete. Terminal messages
// are left unchanged.
func (c *Conversation) Complete(id string) {
	if c.finish(id, StatusComplete, "") {
		c.notify()
	}
}

// Fail marks an open assistant message as failed, keeping the text received
// so far and recording a user-safe description of err.
func (c *Conversation) Fail(id string, err error) {
	if c.finish(id, StatusFailed, UserMessage(err)) {
		slog.Warn("Assistant message failed", "message_id", id, "error", err)
		c.notify()
	}
}

func (c *Conversation) finish(id string, status Status, detail string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.index[id]
	if !ok {
		slog.Warn("Ignoring terminal transition for unknown message", "message_id", id)
		return false
	}
	if m.Status.Terminal() {
		return false
	}
	m.Status = status
	m.ErrorDetail = detail
	m.Sections = c.parser.Parse(m.RawText)
	return true
}

// Messages returns a snapshot of the log, safe to read without locking.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = copyMessage(m)
	}
	return out
}

// Message returns a snapshot of one message.
func (c *Conversation) Message(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return copyMessage(m), true
}

// InFlight reports whether an assistant message is still open.
func (c *Conversation) InFlight() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.messages {
		if m.Sender == SenderAssistant && !m.Status.Terminal() {
			return true
		}
	}
	return false
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Subscribe registers fn to run after every change. fn runs outside the
// lock and must not block.
func (c *Conversation) Subscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Conversation) notify() {
	c.mu.RLock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func copyMessage(m *Message) Message {
	cp := *m
	cp.Sections = sections.Sections{
		Reasoning:  append([]string{}, m.Sections.Reasoning...),
		Answer:     append([]string{}, m.Sections.Answer...),
		Structured: m.Sections.Structured,
	}
	return cp
}

// truncateRunes returns the longest prefix of s within limit bytes that does
// not split a rune.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
