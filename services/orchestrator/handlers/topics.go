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
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/ingest"
	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
	"github.com/AleutianAI/celervus/services/orchestrator/observability"
)

// DefaultMaxUploadBytes bounds an uploaded outline.
const DefaultMaxUploadBytes = 10 << 20

// GraphReader is the read side of the graph store used by the browse
// endpoints.
type GraphReader interface {
	Topics(ctx context.Context) ([]graphstore.Topic, error)
	TopicDetails(ctx context.Context, id string) (graphstore.TopicDetails, error)
	Subtopic(ctx context.Context, id string) (graphstore.Subtopic, error)
	Children(ctx context.Context, subtopicID string) ([]graphstore.SubtopicNode, error)
	Schema(ctx context.Context) (graphstore.QuerySchema, error)
}

var _ GraphReader = (*graphstore.Store)(nil)

// SubtopicResponse is a subtopic with its direct children.
type SubtopicResponse struct {
	graphstore.Subtopic
	Children []graphstore.SubtopicNode `json:"children"`
}

// ListTopics handles GET /topics.
func ListTopics(graph GraphReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		topics, err := graph.Topics(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list topics", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
			return
		}
		if topics == nil {
			topics = []graphstore.Topic{}
		}
		c.JSON(http.StatusOK, datatypes.TopicsResponse{Topics: topics})
	}
}

// GetTopic handles GET /topics/:id.
func GetTopic(graph GraphReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		details, err := graph.TopicDetails(c.Request.Context(), id)
		if err != nil {
			writeLookupError(c, "topic", id, err)
			return
		}
		c.JSON(http.StatusOK, details)
	}
}

// GetSubtopic handles GET /subtopics/:id.
func GetSubtopic(graph GraphReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		sub, err := graph.Subtopic(ctx, id)
		if err != nil {
			writeLookupError(c, "subtopic", id, err)
			return
		}
		children, err := graph.Children(ctx, id)
		if err != nil {
			writeLookupError(c, "subtopic", id, err)
			return
		}
		if children == nil {
			children = []graphstore.SubtopicNode{}
		}
		c.JSON(http.StatusOK, SubtopicResponse{Subtopic: sub, Children: children})
	}
}

func writeLookupError(c *gin.Context, kind, id string, err error) {
	switch {
	case errors.Is(err, graphstore.ErrNotFound):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: kind + " not found"})
	case errors.Is(err, graphstore.ErrInvalidID):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid " + kind + " id"})
	default:
		slog.Error("Graph lookup failed", "kind", kind, "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
	}
}

// GraphSchema handles GET /graph/schema.
func GraphSchema(graph GraphReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		schema, err := graph.Schema(c.Request.Context())
		if err != nil {
			slog.Error("Failed to read graph schema", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
			return
		}
		c.JSON(http.StatusOK, schema)
	}
}

// CreateGraph handles POST /create_graph?limit=N with a multipart "file"
// holding an outline.
//
// # Description
//
// The outline is validated before anything is written. When the graph is
// written but vector indexing fails the response is still 200 and carries
// a warning, since the graph alone can answer questions.
//
// # Inputs
//
//	ingester       - Writes the graph and the vector index.
//	maxUploadBytes - Upload bound. Zero uses DefaultMaxUploadBytes.
//	metrics        - May be nil.
func CreateGraph(ingester *ingest.Ingester, maxUploadBytes int64, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return func(c *gin.Context) {
		limit := ingest.DefaultLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error:   "invalid request",
					Details: "limit must be a positive integer",
				})
				return
			}
			limit = n
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:   "invalid request",
				Details: fmt.Sprintf("a multipart \"file\" of at most %d bytes is required", maxUploadBytes),
			})
			return
		}
		f, err := header.Open()
		if err != nil {
			slog.Error("Failed to open upload", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
			return
		}
		defer f.Close()

		outline, err := ingest.ParseOutline(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid outline", Details: err.Error()})
			return
		}
		if outline.Source == "" {
			outline.Source = filepath.Base(header.Filename)
		}

		sum, err := ingester.Ingest(c.Request.Context(), outline, limit)
		resp := datatypes.CreateGraphResponse{
			Message:   "graph created",
			Topics:    sum.Topics,
			Subtopics: sum.Subtopics,
			Truncated: sum.Truncated,
			Indexed:   sum.Indexed,
		}
		switch {
		case err == nil:
		case errors.Is(err, ingest.ErrIndexing):
			slog.Warn("Graph written but indexing failed", "source", outline.Source, "error", err)
			resp.Warning = "graph created but vector indexing failed"
		default:
			slog.Error("Ingestion failed", "source", outline.Source, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
			return
		}
		if metrics != nil {
			metrics.RecordIngested(sum.Subtopics)
		}
		if resp.Topics == nil {
			resp.Topics = []graphstore.Topic{}
		}
		slog.Info("Outline ingested",
			"source", outline.Source,
			"topics", len(sum.Topics),
			"subtopics", sum.Subtopics,
			"truncated", sum.Truncated)
		c.JSON(http.StatusOK, resp)
	}
}
