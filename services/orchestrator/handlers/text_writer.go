// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// TextStreamWriter streams plain text, flushing after every write.
//
// # Description
//
// The /query response is raw UTF-8 text with no event framing; the client
// re-parses the accumulated text after every chunk. Headers go out with
// the first non-empty write, so a handler can still choose an error status
// until then.
//
// # Thread Safety
//
// Safe for concurrent use; writes are serialized.
type TextStreamWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	started time.Time

	mu         sync.Mutex
	firstWrite time.Time
	bytes      int
}

// NewTextStreamWriter wraps w, which must support http.Flusher.
func NewTextStreamWriter(w http.ResponseWriter) (*TextStreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &TextStreamWriter{writer: w, flusher: flusher, started: time.Now()}, nil
}

// SetStreamingHeaders sets the headers of a streamed text response.
func SetStreamingHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteToken writes content and flushes it. Empty content is a no-op.
func (w *TextStreamWriter) WriteToken(content string) error {
	if content == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.firstWrite.IsZero() {
		SetStreamingHeaders(w.writer)
		w.writer.WriteHeader(http.StatusOK)
		w.firstWrite = time.Now()
	}
	n, err := io.WriteString(w.writer, content)
	w.bytes += n
	if err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Started reports whether any bytes (and so the headers) were written.
func (w *TextStreamWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.firstWrite.IsZero()
}

// TimeToFirstByte is the delay between creation and the first write, or
// zero if nothing was written.
func (w *TextStreamWriter) TimeToFirstByte() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.firstWrite.IsZero() {
		return 0
	}
	return w.firstWrite.Sub(w.started)
}

// BytesWritten returns the body bytes written so far.
func (w *TextStreamWriter) BytesWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytes
}
