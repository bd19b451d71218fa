// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/ingest"
	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
	"github.com/AleutianAI/celervus/services/orchestrator/handlers"
	"github.com/AleutianAI/celervus/services/orchestrator/routes"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

const cliOutline = `{"source": "guide.pdf", "topics": [
  {"id": "t-go", "name": "Go", "subtopics": [
    {"id": "s-chan", "name": "Channels", "text": "Typed pipes.", "bullet_points": ["send", "receive"],
     "children": [{"id": "s-buf", "name": "Buffered"}]}
  ]}
]}`

func init() {
	gin.SetMode(gin.TestMode)
}

// newGraphServer serves the real routes over an in-memory graph.
func newGraphServer(t *testing.T) *httptest.Server {
	t.Helper()
	g, err := graphstore.Open(graphstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	router := gin.New()
	routes.SetupRoutes(router, routes.Dependencies{
		Graph:    g,
		Ingester: ingest.NewIngester(g, nil),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func writeOutline(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outline.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAPIClient_GraphRoundTrip(t *testing.T) {
	srv := newGraphServer(t)
	client := newAPIClient(srv.URL+"/", "", 5*time.Second)
	ctx := context.Background()

	created, err := client.Ingest(ctx, writeOutline(t, cliOutline), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, created.Subtopics)
	require.Len(t, created.Topics, 1)

	topics, err := client.Topics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Go", topics[0].Name)

	details, err := client.Topic(ctx, "t-go")
	require.NoError(t, err)
	require.Len(t, details.Subtopics, 1)
	assert.Equal(t, "Channels", details.Subtopics[0].Name)

	sub, err := client.Subtopic(ctx, "s-chan")
	require.NoError(t, err)
	assert.Equal(t, []string{"send", "receive"}, sub.BulletPoints)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "Buffered", sub.Children[0].Name)

	schema, err := client.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, schema.Counts[graphstore.LabelTopic])

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, handlers.ComponentOK, health.Graph)
	assert.Equal(t, handlers.ComponentDisabled, health.Vector)

	_, err = client.Topic(ctx, "missing")
	assert.True(t, isNotFound(err), "got %v", err)
}

func TestAPIClient_IngestLimitAndErrors(t *testing.T) {
	srv := newGraphServer(t)
	client := newAPIClient(srv.URL, "", 5*time.Second)
	ctx := context.Background()

	created, err := client.Ingest(ctx, writeOutline(t, cliOutline), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Subtopics)
	assert.True(t, created.Truncated)

	_, err = client.Ingest(ctx, writeOutline(t, `{"pages": 1}`), 0)
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.NotEmpty(t, ae.Message)

	_, err = client.Ingest(ctx, filepath.Join(t.TempDir(), "absent.json"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAPIClient_VectorRequests(t *testing.T) {
	var (
		lastMethod, lastPath, lastQuery, lastAuth string
		lastBody                                  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastMethod, lastPath, lastQuery = r.Method, r.URL.Path, r.URL.RawQuery
		lastAuth = r.Header.Get("Authorization")
		lastBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/db/search":
			_ = json.NewEncoder(w).Encode(datatypes.SearchResponse{Results: []vectorstore.Hit{
				{Entry: vectorstore.Entry{ID: "e1", Text: "channels"}, Score: 0.9},
			}})
		case "/db/add", "/db/delete":
			_ = json.NewEncoder(w).Encode(datatypes.CountResponse{Count: 3})
		case "/db/drop":
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(datatypes.ErrorResponse{Error: "unauthorized"})
		}
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL, "s3cret", 5*time.Second)
	ctx := context.Background()

	hits, err := client.Search(ctx, "go channels", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "e1", hits[0].ID)
	assert.Equal(t, http.MethodGet, lastMethod)
	assert.Equal(t, "query=go+channels&top_k=5", lastQuery)
	assert.Equal(t, "Bearer s3cret", lastAuth)

	n, err := client.Add(ctx, []vectorstore.Entry{{Text: "hello", FilePath: "a.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.JSONEq(t, `{"entries": [{"text": "hello", "file_path": "a.pdf"}]}`, string(lastBody))

	n, err = client.Delete(ctx, vectorstore.Condition{Field: "file_path", Operator: vectorstore.OpEqual, Value: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, http.MethodDelete, lastMethod)
	assert.Equal(t, "/db/delete", lastPath)

	err = client.Drop(ctx)
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
	assert.Equal(t, "unauthorized", ae.Message)
}

func TestAPIClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newAPIClient(url, "", time.Second).Topics(context.Background())
	require.Error(t, err)
	assert.False(t, isNotFound(err))
}
