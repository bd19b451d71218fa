// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/celervus/services/orchestrator/middleware"
	"github.com/AleutianAI/celervus/services/orchestrator/observability"
	"github.com/AleutianAI/celervus/services/querygen"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedAnswerer writes chunks in order and then returns err.
type scriptedAnswerer struct {
	chunks   []string
	err      error
	question string
}

func (s *scriptedAnswerer) Answer(ctx context.Context, question string, w querygen.TokenWriter) error {
	s.question = question
	for _, c := range s.chunks {
		if err := w.WriteToken(c); err != nil {
			return err
		}
	}
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}

func queryRouter(a Answerer, m *observability.StreamingMetrics) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery())
	r.GET("/query", HandleQuery(a, m))
	return r
}

func getQuery(r http.Handler, q string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/query?query="+url.QueryEscape(q), nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHandleQuery_Streams(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	a := &scriptedAnswerer{chunks: []string{"Two topics match.\n", "Final Answer: ", "2"}}

	w := getQuery(queryRouter(a, m), "  how many topics?  ")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Two topics match.\nFinal Answer: 2", w.Body.String())
	assert.Equal(t, "how many topics?", a.question)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.True(t, w.Flushed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query", "success")))
	assert.Equal(t, float64(len(w.Body.String())), testutil.ToFloat64(m.BytesTotal.WithLabelValues("query")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("query")))
}

func TestHandleQuery_Validation(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := queryRouter(&scriptedAnswerer{}, m)

	for name, q := range map[string]string{
		"blank":    "   ",
		"too long": strings.Repeat("x", 4097),
	} {
		t.Run(name, func(t *testing.T) {
			w := getQuery(r, q)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("query", "validation")))
}

func TestHandleQuery_LongestValidQuestion(t *testing.T) {
	w := getQuery(queryRouter(&scriptedAnswerer{chunks: []string{"ok"}}, nil), strings.Repeat("x", 4096))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleQuery_NarrationFailsBeforeFirstByte(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	a := &scriptedAnswerer{err: errors.Join(querygen.ErrNarrationFailed, errors.New("model down"))}

	w := getQuery(queryRouter(a, m), "q")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), genericErrorMessage)
	assert.NotContains(t, w.Body.String(), "model down")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("query", "narration")))
}

func TestHandleQuery_MidStreamFailureAborts(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	a := &scriptedAnswerer{chunks: []string{"Partial reasoning\n"}, err: errors.New("stream reset")}
	r := queryRouter(a, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/query?query=q", nil)
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { r.ServeHTTP(w, req) })

	assert.Equal(t, "Partial reasoning\n", w.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("query", "stream_aborted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("query")))
}

func TestHandleQuery_ClientDisconnect(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := queryRouter(&scriptedAnswerer{chunks: []string{"partial"}}, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/query?query=q", nil).WithContext(ctx)
	require.NotPanics(t, func() { r.ServeHTTP(w, req) })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("query")))
}

func TestTextStreamWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewTextStreamWriter(rec)
	require.NoError(t, err)

	assert.False(t, w.Started())
	require.NoError(t, w.WriteToken(""))
	assert.False(t, w.Started(), "empty writes send no headers")
	assert.Zero(t, w.TimeToFirstByte())

	require.NoError(t, w.WriteToken("héllo"))
	require.NoError(t, w.WriteToken(" world"))
	assert.True(t, w.Started())
	assert.Equal(t, len("héllo world"), w.BytesWritten())
	assert.Equal(t, "héllo world", rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Code)
}

type noFlushWriter struct{ http.ResponseWriter }

func TestNewTextStreamWriter_RequiresFlusher(t *testing.T) {
	_, err := NewTextStreamWriter(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}
