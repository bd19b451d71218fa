// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"sync"
)

// Streamer opens a stream for a question. *Transport implements it.
type Streamer interface {
	Open(ctx context.Context, req QueryRequest, handler StreamHandler) error
}

var _ Streamer = (*Transport)(nil)

// ChatSession connects a Conversation to a Streamer.
//
// # Description
//
// ChatSession submits the question, opens the stream and binds the stream
// callbacks to the new assistant message. Every callback first checks that
// the session generation it was created under is still current, so a
// closed session never sees a late mutation even if the network read has
// not returned yet.
//
// # Thread Safety
//
// Safe for concurrent use. Only one turn is admitted at a time by the
// Conversation.
type ChatSession struct {
	conv     *Conversation
	streamer Streamer

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewChatSession creates a session over conv and streamer.
func NewChatSession(conv *Conversation, streamer Streamer) *ChatSession {
	if conv == nil {
		conv = NewConversation()
	}
	return &ChatSession{conv: conv, streamer: streamer}
}

// Conversation returns the session's message log.
func (s *ChatSession) Conversation() *Conversation {
	return s.conv
}

// Send submits text and streams the answer on the calling goroutine.
//
// # Outputs
//
//   - Turn: The created messages. Zero value when submission was rejected.
//   - error: ErrEmptyInput or ErrTurnInFlight from Submit. Stream failures
//     are recorded on the assistant message, not returned.
func (s *ChatSession) Send(ctx context.Context, text string) (Turn, error) {
	turn, run, err := s.start(ctx, text)
	if err != nil {
		return Turn{}, err
	}
	run()
	return turn, nil
}

// SendAsync is Send with the stream running on its own goroutine. The
// returned channel closes when the stream has finished.
func (s *ChatSession) SendAsync(ctx context.Context, text string) (Turn, <-chan struct{}, error) {
	turn, run, err := s.start(ctx, text)
	if err != nil {
		return Turn{}, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		run()
	}()
	return turn, done, nil
}

// Close abandons the in-flight stream. Callbacks still in progress become
// no-ops and the open message is left as it was.
func (s *ChatSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Cancel stops the in-flight stream but keeps the session alive, so the
// open message is marked failed with a cancellation detail.
func (s *ChatSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ChatSession) start(ctx context.Context, text string) (Turn, func(), error) {
	turn, err := s.conv.Submit(text)
	if err != nil {
		return Turn{}, nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	gen := s.generation
	s.cancel = cancel
	s.mu.Unlock()

	handler := &turnHandler{session: s, generation: gen, messageID: turn.AssistantID}
	run := func() {
		defer cancel()
		_ = s.streamer.Open(streamCtx, QueryRequest{Question: turn.Question}, handler)
	}
	return turn, run, nil
}

// deliver runs mutate only while gen is still current. The session lock is
// held across the check and the mutation, so Close waits for a callback
// already in progress and nothing lands after it returns. Conversation
// listeners run under this lock and must not call back into the session.
func (s *ChatSession) deliver(gen uint64, mutate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		mutate()
	}
}

// turnHandler routes one stream's callbacks into the conversation.
type turnHandler struct {
	session    *ChatSession
	generation uint64
	messageID  string
}

func (h *turnHandler) OnChunk(text string) {
	h.session.deliver(h.generation, func() { h.session.conv.AppendChunk(h.messageID, text) })
}

func (h *turnHandler) OnComplete() {
	h.session.deliver(h.generation, func() { h.session.conv.Complete(h.messageID) })
}

func (h *turnHandler) OnError(err error) {
	h.session.deliver(h.generation, func() { h.session.conv.Fail(h.messageID, err) })
}
