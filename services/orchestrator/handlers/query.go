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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/celervus/services/orchestrator/datatypes"
	"github.com/AleutianAI/celervus/services/orchestrator/observability"
	"github.com/AleutianAI/celervus/services/querygen"
)

var tracer = otel.Tracer("celervus.orchestrator.handlers")

// genericErrorMessage is the only error text clients ever see for
// server-side failures.
const genericErrorMessage = "An error occurred while processing your request"

// Answerer runs one question through the graph pipeline.
type Answerer interface {
	Answer(ctx context.Context, question string, w querygen.TokenWriter) error
}

var _ Answerer = (*querygen.Pipeline)(nil)

// HandleQuery streams the answer to GET /query?query=... as plain text.
//
// # Description
//
// Pipeline failures before narration arrive in-band as text with status
// 200. A narration failure before the first byte is a 502 with a JSON
// body. A failure after the first byte aborts the connection so the client
// sees a broken body and keeps its partial text.
//
// # Inputs
//
//	answerer - The question pipeline.
//	metrics  - Streaming metrics. May be nil.
//
// # Outputs
//
//	gin.HandlerFunc - The handler.
func HandleQuery(answerer Answerer, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			rejectQuery(c, metrics, "invalid query string")
			return
		}
		if err := req.Validate(); err != nil {
			rejectQuery(c, metrics, "query must be non-empty and at most 4096 bytes")
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "handlers.HandleQuery")
		defer span.End()
		span.SetAttributes(attribute.Int("query.length", len(req.Query)))

		writer, err := NewTextStreamWriter(c.Writer)
		if err != nil {
			slog.Error("Streaming unsupported", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericErrorMessage})
			return
		}

		start := time.Now()
		if metrics != nil {
			metrics.StreamStarted(observability.EndpointQuery)
			defer metrics.StreamEnded(observability.EndpointQuery)
		}

		err = answerer.Answer(ctx, req.Query, writer)
		success := err == nil
		if metrics != nil {
			metrics.RecordRequest(observability.EndpointQuery, success)
			metrics.RecordBytes(observability.EndpointQuery, writer.BytesWritten())
			if ttfb := writer.TimeToFirstByte(); ttfb > 0 {
				metrics.RecordTimeToFirstToken(observability.EndpointQuery, ttfb.Seconds())
			}
			metrics.RecordStreamDuration(observability.EndpointQuery, time.Since(start).Seconds(), success)
		}
		if success {
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "answer failed")

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			slog.Info("Client disconnected during /query", "bytes", writer.BytesWritten())
			if metrics != nil {
				metrics.RecordClientDisconnect(observability.EndpointQuery)
			}
			return
		}

		if !writer.Started() {
			slog.Error("Answer failed before streaming", "error", err)
			code := observability.ErrorCodeInternal
			if errors.Is(err, querygen.ErrNarrationFailed) {
				code = observability.ErrorCodeNarration
			}
			if metrics != nil {
				metrics.RecordError(observability.EndpointQuery, code)
			}
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: genericErrorMessage})
			return
		}

		slog.Error("Answer failed mid-stream, aborting connection",
			"error", err, "bytes", writer.BytesWritten())
		if metrics != nil {
			metrics.RecordError(observability.EndpointQuery, observability.ErrorCodeStreamAborted)
		}
		panic(http.ErrAbortHandler)
	}
}

func rejectQuery(c *gin.Context, metrics *observability.StreamingMetrics, details string) {
	if metrics != nil {
		metrics.RecordRequest(observability.EndpointQuery, false)
		metrics.RecordError(observability.EndpointQuery, observability.ErrorCodeValidation)
	}
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request", Details: details})
}
