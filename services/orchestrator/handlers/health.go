// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/celervus/services/vectorstore"
)

const healthProbeTimeout = 2 * time.Second

// Component availability values in a health report.
const (
	ComponentOK          = "ok"
	ComponentUnavailable = "unavailable"
	ComponentDisabled    = "disabled"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status string `json:"status"`
	Graph  string `json:"graph"`
	Vector string `json:"vector"`
}

// Health handles GET /health. The process is live whenever it answers, so
// the status code is always 200; the body reports each backend.
func Health(graph GraphReader, store vectorstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok", Graph: ComponentOK, Vector: ComponentDisabled}
		if graph == nil {
			resp.Graph = ComponentDisabled
		} else if _, err := graph.Schema(ctx); err != nil {
			resp.Graph = ComponentUnavailable
		}
		if store != nil {
			resp.Vector = ComponentOK
			if err := store.Ready(ctx); err != nil {
				resp.Vector = ComponentUnavailable
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
