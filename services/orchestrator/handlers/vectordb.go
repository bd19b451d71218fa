// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

// =============================================================================
// Vector store endpoints
// =============================================================================
//
// Every handler here answers 503 when store is nil, which is the case when
// no Weaviate URL is configured.

func storeConfigured(c *gin.Context, store vectorstore.Store) bool {
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "vector store is not configured"})
		return false
	}
	return true
}

func writeStoreError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, vectorstore.ErrInvalidCondition), errors.Is(err, vectorstore.ErrInvalidValues):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request", Details: err.Error()})
	case errors.Is(err, vectorstore.ErrUnavailable):
		slog.Warn("Vector store unavailable", "op", op, "error", err)
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "vector store is unavailable"})
	default:
		slog.Error("Vector store operation failed", "op", op, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
	}
}

func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request", Details: err.Error()})
}

// AddEntries handles POST /db/add.
func AddEntries(store vectorstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !storeConfigured(c, store) {
			return
		}
		var req datatypes.AddRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badBody(c, err)
			return
		}
		n, err := store.Add(c.Request.Context(), req.Entries)
		if err != nil {
			writeStoreError(c, "add", err)
			return
		}
		slog.Info("Entries added", "requested", len(req.Entries), "added", n)
		c.JSON(http.StatusCreated, datatypes.CountResponse{Message: "entries added", Count: n})
	}
}

// UpdateEntries handles POST /db/update.
func UpdateEntries(store vectorstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !storeConfigured(c, store) {
			return
		}
		var req datatypes.UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badBody(c, err)
			return
		}
		n, err := store.Update(c.Request.Context(), req.Condition, req.Values)
		if err != nil {
			writeStoreError(c, "update", err)
			return
		}
		c.JSON(http.StatusOK, datatypes.CountResponse{Message: "entries updated", Count: n})
	}
}

// DeleteEntries handles DELETE /db/delete.
func DeleteEntries(store vectorstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !storeConfigured(c, store) {
			return
		}
		var req datatypes.DeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badBody(c, err)
			return
		}
		n, err := store.Delete(c.Request.Context(), req.Condition)
		if err != nil {
			writeStoreError(c, "delete", err)
			return
		}
		slog.Info("Entries deleted", "field", req.Condition.Field, "operator", req.Condition.Operator, "count", n)
		c.JSON(http.StatusOK, datatypes.CountResponse{Message: "entries deleted", Count: n})
	}
}

// SearchEntries handles GET /db/search?query=&top_k=.
func SearchEntries(store vectorstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !storeConfigured(c, store) {
			return
		}
		var req datatypes.SearchRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			badBody(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badBody(c, err)
			return
		}
		hits, err := store.Search(c.Request.Context(), req.Query, req.TopK)
		if err != nil {
			writeStoreError(c, "search", err)
			return
		}
		if hits == nil {
			hits = []vectorstore.Hit{}
		}
		c.JSON(http.StatusOK, datatypes.SearchResponse{Results: hits})
	}
}

// DropEntries handles DELETE /db/drop. The route is guarded by AdminAuth.
func DropEntries(store vectorstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !storeConfigured(c, store) {
			return
		}
		if err := store.Drop(c.Request.Context()); err != nil {
			writeStoreError(c, "drop", err)
			return
		}
		slog.Warn("Vector table dropped", "client_ip", c.ClientIP())
		c.JSON(http.StatusOK, datatypes.CountResponse{Message: "table dropped"})
	}
}
