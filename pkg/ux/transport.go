// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultIdleTimeout fails a stream that delivers no bytes for this long.
	DefaultIdleTimeout = 90 * time.Second

	// readBufferSize is the largest byte range pulled from the body per read.
	readBufferSize = 4096

	// maxErrorBodyBytes bounds how much of a non-2xx body is kept.
	maxErrorBodyBytes = 512
)

// ErrIdleTimeout is returned when no bytes arrive within the idle timeout.
var ErrIdleTimeout = errors.New("stream idle timeout")

// =============================================================================
// Interfaces
// =============================================================================

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StreamHandler receives the decoded stream.
//
// # Description
//
// OnChunk is called with each decoded text fragment in wire order. Exactly
// one of OnComplete or OnError is called afterwards, and nothing is called
// after it. Fragments are not aligned to lines or tokens but never split a
// multi-byte character.
//
// # Thread Safety
//
// Callbacks for one stream are invoked sequentially from the goroutine
// running Transport.Open.
type StreamHandler interface {
	OnChunk(text string)
	OnComplete()
	OnError(err error)
}

// StreamHandlerFuncs adapts plain functions to StreamHandler. Nil fields
// are skipped.
type StreamHandlerFuncs struct {
	Chunk    func(text string)
	Complete func()
	Error    func(err error)
}

func (f StreamHandlerFuncs) OnChunk(text string) {
	if f.Chunk != nil {
		f.Chunk(text)
	}
}

func (f StreamHandlerFuncs) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

func (f StreamHandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// =============================================================================
// Errors
// =============================================================================

// TransportErrorKind classifies transport failures.
type TransportErrorKind string

const (
	TransportStatus   TransportErrorKind = "status"
	TransportNetwork  TransportErrorKind = "network"
	TransportBody     TransportErrorKind = "body"
	TransportIdle     TransportErrorKind = "idle"
	TransportCanceled TransportErrorKind = "canceled"
)

// TransportError describes a failed stream.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportStatus:
		if e.Body != "" {
			return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("stream %s error: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("stream %s error", e.Kind)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage converts any stream error into a sentence safe to show in the
// conversation. Internal detail stays in logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrResponseTooLong) {
		return "The response was too long and has been cut off."
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return "Something went wrong while receiving the answer."
	}
	switch te.Kind {
	case TransportStatus:
		if te.StatusCode == http.StatusTooManyRequests {
			return "The server is busy. Please wait a moment and try again."
		}
		if te.StatusCode >= 500 {
			return "The server could not answer right now. Please try again."
		}
		return fmt.Sprintf("The server rejected the question (status %d).", te.StatusCode)
	case TransportNetwork:
		return "Could not reach the server. Check that it is running."
	case TransportIdle:
		return "The server stopped responding before the answer finished."
	case TransportCanceled:
		return "The request was cancelled."
	default:
		return "The connection was interrupted before the answer finished."
	}
}

// =============================================================================
// Transport
// =============================================================================

// QueryRequest is a single question sent to the query endpoint.
type QueryRequest struct {
	Question string
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	// BaseURL of the orchestrator, e.g. "http://localhost:12210".
	BaseURL string

	// IdleTimeout fails a stream that is silent this long. Zero uses
	// DefaultIdleTimeout; negative disables the check.
	IdleTimeout time.Duration

	// Client overrides the HTTP client. Default: http.Client with no
	// overall timeout, since streams are unbounded.
	Client HTTPClient
}

// Transport opens text streams against the query endpoint.
//
// # Description
//
// Transport issues `GET /query?query=...` with `Accept: text/plain` and
// feeds the decoded body to a StreamHandler. It does not hold conversation
// state; callers bind the handler to whatever they are updating.
//
// # Thread Safety
//
// Safe for concurrent use; each Open call is independent.
type Transport struct {
	baseURL     string
	idleTimeout time.Duration
	client      HTTPClient
}

// NewTransport creates a Transport.
func NewTransport(cfg TransportConfig) *Transport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = DefaultIdleTimeout
	}
	return &Transport{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		idleTimeout: idle,
		client:      client,
	}
}

// Open streams the answer to req into handler.
//
// # Description
//
// Open blocks until the stream ends. Bytes are decoded with a streaming
// UTF-8 decoder that holds back an incomplete multi-byte sequence until the
// next read, so a character split across network reads is delivered whole.
// Invalid bytes are replaced with U+FFFD.
//
// # Inputs
//
//   - ctx: Cancels the request. Cancellation is reported through OnError.
//   - req: The question. Callers validate it before opening.
//   - handler: Receives chunks and exactly one terminal callback.
//
// # Outputs
//
//   - error: The same error delivered to OnError, or nil on completion.
//
// # Examples
//
//	err := transport.Open(ctx, ux.QueryRequest{Question: "What topics exist?"},
//	    ux.StreamHandlerFuncs{Chunk: func(s string) { fmt.Print(s) }})
//
// # Limitations
//
//   - No retry. A failed stream is reported once and left to the caller.
func (t *Transport) Open(ctx context.Context, req QueryRequest, handler StreamHandler) error {
	fail := func(err error) error {
		handler.OnError(err)
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	endpoint := t.baseURL + "/query?query=" + url.QueryEscape(req.Question)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(&TransportError{Kind: TransportNetwork, Err: fmt.Errorf("build request: %w", err)})
	}
	httpReq.Header.Set("Accept", "text/plain")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fail(classifyReadError(ctx, err, TransportNetwork))
	}
	if resp == nil || resp.Body == nil {
		return fail(&TransportError{Kind: TransportBody, Err: errors.New("response has no body")})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fail(&TransportError{
			Kind:       TransportStatus,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	watchdog := newIdleWatchdog(t.idleTimeout, cancel)
	defer watchdog.stop()

	decoded := transform.NewReader(resp.Body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := decoded.Read(buf)
		if n > 0 {
			watchdog.touch()
			handler.OnChunk(string(buf[:n]))
		}
		if readErr == io.EOF {
			handler.OnComplete()
			return nil
		}
		if readErr != nil {
			if watchdog.fired() {
				return fail(&TransportError{Kind: TransportIdle, Err: ErrIdleTimeout})
			}
			return fail(classifyReadError(ctx, readErr, TransportBody))
		}
	}
}

// classifyReadError distinguishes caller cancellation from network failure.
func classifyReadError(ctx context.Context, err error, fallback TransportErrorKind) *TransportError {
	if ctx.Err() != nil {
		return &TransportError{Kind: TransportCanceled, Err: ctx.Err()}
	}
	return &TransportError{Kind: fallback, Err: err}
}

// =============================================================================
// Idle Watchdog
// =============================================================================

// idleWatchdog cancels the stream when touch is not called within timeout.
type idleWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	expired bool
}

func newIdleWatchdog(timeout time.Duration, cancel context.CancelFunc) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	if timeout <= 0 {
		return w
	}
	w.timer = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		w.expired = true
		w.mu.Unlock()
		cancel()
	})
	return w
}

func (w *idleWatchdog) touch() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

func (w *idleWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
