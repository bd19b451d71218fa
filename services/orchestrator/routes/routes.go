// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/celervus/services/ingest"
	"github.com/AleutianAI/celervus/services/orchestrator/handlers"
	"github.com/AleutianAI/celervus/services/orchestrator/middleware"
	"github.com/AleutianAI/celervus/services/orchestrator/observability"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

// Dependencies are the services the routes are bound to.
type Dependencies struct {
	Answerer handlers.Answerer
	Graph    handlers.GraphReader
	Ingester *ingest.Ingester

	// Store is nil when no vector store is configured.
	Store vectorstore.Store

	// Metrics and Gatherer are nil when metrics are disabled.
	Metrics  *observability.StreamingMetrics
	Gatherer prometheus.Gatherer

	AdminToken     string
	RateLimiter    *middleware.IPRateLimiter
	MaxUploadBytes int64
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.Health(deps.Graph, deps.Store))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	router.GET("/query", middleware.RateLimit(deps.RateLimiter), handlers.HandleQuery(deps.Answerer, deps.Metrics))

	router.POST("/create_graph", handlers.CreateGraph(deps.Ingester, deps.MaxUploadBytes, deps.Metrics))
	router.GET("/topics", handlers.ListTopics(deps.Graph))
	router.GET("/topics/:id", handlers.GetTopic(deps.Graph))
	router.GET("/subtopics/:id", handlers.GetSubtopic(deps.Graph))
	router.GET("/graph/schema", handlers.GraphSchema(deps.Graph))

	db := router.Group("/db")
	{
		db.POST("/add", handlers.AddEntries(deps.Store))
		db.POST("/update", handlers.UpdateEntries(deps.Store))
		db.DELETE("/delete", handlers.DeleteEntries(deps.Store))
		db.GET("/search", handlers.SearchEntries(deps.Store))
		db.DELETE("/drop", middleware.AdminAuth(deps.AdminToken), handlers.DropEntries(deps.Store))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
