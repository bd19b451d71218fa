// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const testOutline = `{"source": "notes.pdf", "topics": [
  {"name": "Go", "subtopics": [{"name": "Channels", "text": "Typed pipes."}]},
  {"name": "Rust", "subtopics": [{"name": "Ownership", "text": "One owner."}]}
]}`

// scriptedLLM answers Stage A with a fixed query and streams a fixed
// narration, recording the prompts it saw.
type scriptedLLM struct {
	query string

	mu      sync.Mutex
	prompts []string
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	s.record(prompt)
	return "```cypher\n" + s.query + "\n```", nil
}

func (s *scriptedLLM) Stream(_ context.Context, prompt string, _ llm.GenerationParams, onToken llm.StreamCallback) error {
	s.record(prompt)
	for _, tok := range []string{"There are two topics.\n", "Final Answer: ", "2"} {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (s *scriptedLLM) record(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
}

func newTestService(t *testing.T, cfg Config, client llm.LLMClient) Service {
	t.Helper()
	g, err := graphstore.Open(graphstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	svc, err := New(cfg, &Options{LLMClient: client, Graph: g, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func uploadOutline(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "outline.json")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(body))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/create_graph", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port)
	assert.Equal(t, 1, result.RateLimitBurst)
	assert.Equal(t, int64(10<<20), result.MaxUploadBytes)
	assert.Equal(t, 10*time.Second, result.ShutdownTimeout)
	assert.Zero(t, result.RateLimitRPS, "rate limiting stays off unless configured")
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:           8080,
		WeaviateURL:    `"http://weaviate:8080" `,
		RateLimitBurst: 9,
		MaxUploadBytes: 1024,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL, "quotes from env files are trimmed")
	assert.Equal(t, 9, result.RateLimitBurst)
	assert.Equal(t, int64(1024), result.MaxUploadBytes)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.EnableMetrics)
	assert.True(t, cfg.LLM.Breaker.Enabled)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

// =============================================================================
// Service Tests
// =============================================================================

func TestService_IngestThenAsk(t *testing.T) {
	client := &scriptedLLM{query: "MATCH (t:Topic) RETURN count(*) AS topics"}
	svc := newTestService(t, Config{EnableMetrics: true}, client)
	router := svc.Router()

	w := uploadOutline(t, router, testOutline)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query?query=How+many+topics%3F", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "There are two topics.\nFinal Answer: 2", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[0], "How many topics?")
	assert.Contains(t, client.prompts[1], "topics\n2\n")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `celervus_streaming_requests_total{endpoint="query",status="success"} 1`)
	assert.Contains(t, w.Body.String(), "celervus_ingest_subtopics_total 2")
}

func TestService_InvalidQueryNarratedInBand(t *testing.T) {
	client := &scriptedLLM{query: "MATCH (p:Person) RETURN p"}
	svc := newTestService(t, Config{}, client)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query?query=who", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "query execution step failed")
	assert.True(t, strings.HasSuffix(w.Body.String(),
		"Final Answer: I could not answer that question from the knowledge graph.\n"))
}

func TestService_Routes(t *testing.T) {
	svc := newTestService(t, Config{}, &scriptedLLM{})

	want := []struct{ method, path string }{
		{"GET", "/health"},
		{"GET", "/query"},
		{"POST", "/create_graph"},
		{"GET", "/topics"},
		{"GET", "/topics/:id"},
		{"GET", "/subtopics/:id"},
		{"GET", "/graph/schema"},
		{"POST", "/db/add"},
		{"POST", "/db/update"},
		{"DELETE", "/db/delete"},
		{"GET", "/db/search"},
		{"DELETE", "/db/drop"},
	}
	registered := map[string]bool{}
	for _, r := range svc.Router().Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, r := range want {
		assert.True(t, registered[r.method+" "+r.path], "%s %s", r.method, r.path)
	}
	assert.False(t, registered["GET /metrics"], "metrics disabled")

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/db/search?query=x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no vector store configured")
}

func TestService_WatchesIngestDir(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	svc := newTestService(t, Config{IngestDir: dir, Port: port}, &scriptedLLM{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	waitHealthy(t, port)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "outline.json"), []byte(testOutline), 0o644))

	assert.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/topics", nil))
		return strings.Contains(w.Body.String(), `"Rust"`)
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_RunServesAndShutsDown(t *testing.T) {
	port := freePort(t)
	svc := newTestService(t, Config{Port: port}, &scriptedLLM{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitHealthy(t, port)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// waitHealthy polls /health until the server answers. The ingest watcher
// is started before the listener, so it is active once this returns.
func waitHealthy(t *testing.T, port int) {
	t.Helper()
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
