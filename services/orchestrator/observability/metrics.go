// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability defines the Prometheus metrics of the orchestrator.
//
// Metrics are registered on a caller-supplied registry so tests and
// multiple service instances never collide on the global default.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "celervus"

const (
	streamingSubsystem = "streaming"
	pipelineSubsystem  = "pipeline"
	ingestSubsystem    = "ingest"
)

// Endpoint labels a streaming endpoint.
type Endpoint string

const EndpointQuery Endpoint = "query"

// ErrorCode labels a streaming failure.
type ErrorCode string

const (
	// ErrorCodeValidation: the request was rejected before streaming.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNarration: the model failed before the first token.
	ErrorCodeNarration ErrorCode = "narration"

	// ErrorCodeStreamAborted: the stream failed after the first byte.
	ErrorCodeStreamAborted ErrorCode = "stream_aborted"

	ErrorCodeInternal ErrorCode = "internal"
)

// StreamingMetrics tracks /query streams and the pipeline behind them.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type StreamingMetrics struct {
	RequestsTotal           *prometheus.CounterVec
	TimeToFirstTokenSeconds *prometheus.HistogramVec
	StreamDurationSeconds   *prometheus.HistogramVec
	ActiveStreams           *prometheus.GaugeVec
	ErrorsTotal             *prometheus.CounterVec
	ClientDisconnectsTotal  *prometheus.CounterVec
	BytesTotal              *prometheus.CounterVec

	// StageFailuresTotal counts pipeline failures narrated in-band.
	StageFailuresTotal *prometheus.CounterVec

	// IngestedSubtopicsTotal counts subtopics written by ingestion.
	IngestedSubtopicsTotal prometheus.Counter
}

// NewMetrics registers the metrics on reg.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	m := observability.NewMetrics(reg)
func NewMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)
	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of streaming requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TimeToFirstTokenSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed byte in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
		BytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "bytes_total",
				Help:      "Total response bytes streamed",
			},
			[]string{"endpoint"},
		),
		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_failures_total",
				Help:      "Pipeline failures by stage",
			},
			[]string{"stage"},
		),
		IngestedSubtopicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "subtopics_total",
				Help:      "Subtopics written to the graph by ingestion",
			},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
}

func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *StreamingMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

func (m *StreamingMetrics) RecordBytes(endpoint Endpoint, n int) {
	m.BytesTotal.WithLabelValues(string(endpoint)).Add(float64(n))
}

// RecordStageFailure counts a pipeline stage that failed and was
// narrated in-band.
func (m *StreamingMetrics) RecordStageFailure(stage string) {
	m.StageFailuresTotal.WithLabelValues(stage).Inc()
}

func (m *StreamingMetrics) RecordIngested(subtopics int) {
	m.IngestedSubtopicsTotal.Add(float64(subtopics))
}
