// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
	"github.com/AleutianAI/celervus/services/orchestrator/handlers"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// apiError is a non-2xx answer from the orchestrator.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// isNotFound reports whether err is a 404 from the server.
func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// apiClient calls the orchestrator's JSON endpoints. Streaming questions go
// through ux.Transport instead.
type apiClient struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

func newAPIClient(baseURL, adminToken string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminToken: adminToken,
		http:       &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var er datatypes.ErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
			if er.Details != "" {
				msg += " (" + er.Details + ")"
			}
		}
		return &apiError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, bytes.NewReader(payload), "application/json", out)
}

// ===== Graph =====

func (c *apiClient) Health(ctx context.Context) (handlers.HealthResponse, error) {
	var resp handlers.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, "", &resp)
	return resp, err
}

func (c *apiClient) Topics(ctx context.Context) ([]graphstore.Topic, error) {
	var resp datatypes.TopicsResponse
	if err := c.do(ctx, http.MethodGet, "/topics", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Topics, nil
}

func (c *apiClient) Topic(ctx context.Context, id string) (graphstore.TopicDetails, error) {
	var resp graphstore.TopicDetails
	err := c.do(ctx, http.MethodGet, "/topics/"+url.PathEscape(id), nil, "", &resp)
	return resp, err
}

func (c *apiClient) Subtopic(ctx context.Context, id string) (graphstore.SubtopicNode, error) {
	var resp graphstore.SubtopicNode
	err := c.do(ctx, http.MethodGet, "/subtopics/"+url.PathEscape(id), nil, "", &resp)
	return resp, err
}

func (c *apiClient) Schema(ctx context.Context) (graphstore.QuerySchema, error) {
	var resp graphstore.QuerySchema
	err := c.do(ctx, http.MethodGet, "/graph/schema", nil, "", &resp)
	return resp, err
}

// Ingest uploads an outline file to /create_graph. limit <= 0 leaves the
// server default.
func (c *apiClient) Ingest(ctx context.Context, path string, limit int) (datatypes.CreateGraphResponse, error) {
	var resp datatypes.CreateGraphResponse

	f, err := os.Open(path)
	if err != nil {
		return resp, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return resp, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return resp, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return resp, err
	}

	target := "/create_graph"
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}
	err = c.do(ctx, http.MethodPost, target, &buf, mw.FormDataContentType(), &resp)
	return resp, err
}

// ===== Vector store =====

func (c *apiClient) Search(ctx context.Context, query string, topK int) ([]vectorstore.Hit, error) {
	q := url.Values{"query": {query}}
	if topK > 0 {
		q.Set("top_k", strconv.Itoa(topK))
	}
	var resp datatypes.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/db/search?"+q.Encode(), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *apiClient) Add(ctx context.Context, entries []vectorstore.Entry) (int, error) {
	var resp datatypes.CountResponse
	err := c.doJSON(ctx, http.MethodPost, "/db/add", datatypes.AddRequest{Entries: entries}, &resp)
	return resp.Count, err
}

func (c *apiClient) Delete(ctx context.Context, cond vectorstore.Condition) (int, error) {
	var resp datatypes.CountResponse
	err := c.doJSON(ctx, http.MethodDelete, "/db/delete", datatypes.DeleteRequest{Condition: cond}, &resp)
	return resp.Count, err
}

func (c *apiClient) Drop(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/db/drop", nil, "", nil)
}
