// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/ingest"
	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
	"github.com/AleutianAI/celervus/services/orchestrator/observability"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

const outlineJSON = `{
  "source": "guide.pdf",
  "topics": [
    {"id": "t-go", "name": "Go", "subtopics": [
      {"id": "s-chan", "name": "Channels", "text": "Typed pipes.",
       "children": [{"id": "s-buf", "name": "Buffered", "text": "With capacity."}]},
      {"id": "s-sel", "name": "Select", "text": "Waits on many channels."}
    ]},
    {"id": "t-test", "name": "Testing", "subtopics": [{"id": "s-tbl", "name": "Tables"}]}
  ]
}`

type failingIndex struct{}

func (failingIndex) Add(context.Context, []vectorstore.Entry) (int, error) {
	return 0, errors.New("weaviate down")
}

func newTestGraph(t *testing.T) *graphstore.Store {
	t.Helper()
	g, err := graphstore.Open(graphstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func graphRouter(g *graphstore.Store, index ingest.Indexer, m *observability.StreamingMetrics, maxUpload int64) *gin.Engine {
	r := gin.New()
	r.POST("/create_graph", CreateGraph(ingest.NewIngester(g, index), maxUpload, m))
	r.GET("/topics", ListTopics(g))
	r.GET("/topics/:id", GetTopic(g))
	r.GET("/subtopics/:id", GetSubtopic(g))
	r.GET("/graph/schema", GraphSchema(g))
	return r
}

func uploadRequest(t *testing.T, target, field, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "outline.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateGraph_AndBrowse(t *testing.T) {
	g := newTestGraph(t)
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := graphRouter(g, nil, m, 0)

	w := do(r, uploadRequest(t, "/create_graph", "file", outlineJSON))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[datatypes.CreateGraphResponse](t, w)
	assert.Equal(t, 4, created.Subtopics)
	assert.False(t, created.Truncated)
	assert.Len(t, created.Topics, 2)
	assert.Empty(t, created.Warning)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.IngestedSubtopicsTotal))

	w = do(r, httptest.NewRequest(http.MethodGet, "/topics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[datatypes.TopicsResponse](t, w).Topics, 2)

	w = do(r, httptest.NewRequest(http.MethodGet, "/topics/t-go", nil))
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[graphstore.TopicDetails](t, w)
	assert.Equal(t, "Go", details.Name)
	require.Len(t, details.Subtopics, 2)
	assert.Equal(t, "Channels", details.Subtopics[0].Name)

	w = do(r, httptest.NewRequest(http.MethodGet, "/subtopics/s-chan", nil))
	require.Equal(t, http.StatusOK, w.Code)
	sub := decode[SubtopicResponse](t, w)
	assert.Equal(t, "Typed pipes.", sub.Text)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "Buffered", sub.Children[0].Name)

	w = do(r, httptest.NewRequest(http.MethodGet, "/graph/schema", nil))
	require.Equal(t, http.StatusOK, w.Code)
	schema := decode[graphstore.QuerySchema](t, w)
	assert.NotEmpty(t, schema.Nodes)
	assert.Equal(t, 2, schema.Counts[graphstore.LabelTopic])
}

func TestCreateGraph_Limit(t *testing.T) {
	r := graphRouter(newTestGraph(t), nil, nil, 0)

	w := do(r, uploadRequest(t, "/create_graph?limit=1", "file", outlineJSON))
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[datatypes.CreateGraphResponse](t, w)
	assert.Equal(t, 1, created.Subtopics)
	assert.True(t, created.Truncated)

	for _, bad := range []string{"0", "-3", "ten"} {
		w = do(r, uploadRequest(t, "/create_graph?limit="+bad, "file", outlineJSON))
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestCreateGraph_Rejects(t *testing.T) {
	r := graphRouter(newTestGraph(t), nil, nil, 256)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"wrong field", uploadRequest(t, "/create_graph", "upload", outlineJSON)},
		{"not an outline", uploadRequest(t, "/create_graph", "file", `{"pages": 3}`)},
		{"too large", uploadRequest(t, "/create_graph", "file", outlineJSON)},
		{"no body", httptest.NewRequest(http.MethodPost, "/create_graph", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(r, tt.req).Code)
		})
	}
}

func TestCreateGraph_IndexFailureWarns(t *testing.T) {
	g := newTestGraph(t)
	r := graphRouter(g, failingIndex{}, nil, 0)

	w := do(r, uploadRequest(t, "/create_graph", "file", outlineJSON))
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[datatypes.CreateGraphResponse](t, w)
	assert.NotEmpty(t, created.Warning)
	assert.NotContains(t, created.Warning, "weaviate down")

	topics, err := g.Topics(context.Background())
	require.NoError(t, err)
	assert.Len(t, topics, 2)
}

func TestLookups_NotFound(t *testing.T) {
	r := graphRouter(newTestGraph(t), nil, nil, 0)

	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/topics/missing", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/subtopics/missing", nil)).Code)

	w := do(r, httptest.NewRequest(http.MethodGet, "/topics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"topics": []}`, w.Body.String())
}
