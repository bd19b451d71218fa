// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the Celervus HTTP service: the topic graph,
// the question pipeline, the optional vector store, ingestion and
// observability.
//
// # Usage
//
//	cfg := orchestrator.DefaultConfig()
//	cfg.LLM.Backend = "groq"
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = svc.Run(ctx) // returns after ctx is cancelled and shutdown completes
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/celervus/services/graphstore"
	"github.com/AleutianAI/celervus/services/ingest"
	"github.com/AleutianAI/celervus/services/llm"
	"github.com/AleutianAI/celervus/services/orchestrator/handlers"
	"github.com/AleutianAI/celervus/services/orchestrator/middleware"
	"github.com/AleutianAI/celervus/services/orchestrator/observability"
	"github.com/AleutianAI/celervus/services/orchestrator/routes"
	"github.com/AleutianAI/celervus/services/querygen"
	"github.com/AleutianAI/celervus/services/vectorstore"
)

const serviceName = "celervus-orchestrator"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Run must be called at most once. Router is safe to call at any time.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully:
	// in-flight requests get ShutdownTimeout to finish, the ingest watcher
	// stops, the graph database closes and pending spans are flushed.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine

	// Close releases resources without serving. Safe to call after Run.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator settings. Zero values fall back to defaults
// in New, except the booleans, which DefaultConfig sets.
type Config struct {
	// Port is the HTTP port. Default: 12210.
	Port int `yaml:"port"`

	// GinMode is "debug", "release" or "test". Empty keeps gin's default.
	GinMode string `yaml:"gin_mode"`

	LLM llm.Config `yaml:"llm"`

	// GraphPath is the badger directory. Empty keeps the graph in memory.
	GraphPath string `yaml:"graph_path"`

	// WeaviateURL enables the /db endpoints and subtopic indexing.
	WeaviateURL        string `yaml:"weaviate_url"`
	WeaviateVectorizer string `yaml:"weaviate_vectorizer"`

	// OTelEndpoint is an OTLP gRPC collector, e.g. "localhost:4317".
	// When empty, TraceStdout selects a stdout exporter; otherwise
	// tracing is off.
	OTelEndpoint string `yaml:"otel_endpoint"`
	TraceStdout  bool   `yaml:"trace_stdout"`

	EnableMetrics bool `yaml:"enable_metrics"`

	// AdminToken guards DELETE /db/drop. Empty disables the route.
	AdminToken string `yaml:"admin_token"`

	// RateLimitRPS bounds /query per client IP. Zero disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	CORSOrigins []string `yaml:"cors_origins"`

	// IngestDir is watched for outline files when set.
	IngestDir string `yaml:"ingest_dir"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Port:            12210,
		LLM:             llm.Config{Backend: "openai", Breaker: llm.DefaultBreakerConfig()},
		EnableMetrics:   true,
		RateLimitRPS:    2,
		RateLimitBurst:  5,
		CORSOrigins:     middleware.DefaultCORSOrigins,
		MaxUploadBytes:  handlers.DefaultMaxUploadBytes,
		ShutdownTimeout: 10 * time.Second,
	}
}

// applyConfigDefaults fills zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 1
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = handlers.DefaultMaxUploadBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	cfg.WeaviateURL = strings.Trim(cfg.WeaviateURL, "\"' ")
	return cfg
}

// Options injects dependencies, mostly for tests. Nil fields are built
// from Config.
type Options struct {
	LLMClient llm.LLMClient
	Graph     *graphstore.Store
	Store     vectorstore.Store
	Registry  *prometheus.Registry
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config   Config
	router   *gin.Engine
	graph    *graphstore.Store
	ownGraph bool
	store    vectorstore.Store
	pipeline *querygen.Pipeline
	ingester *ingest.Ingester
	watcher  *ingest.Watcher
	metrics  *observability.StreamingMetrics
	registry *prometheus.Registry

	tracerCleanup func(context.Context)
	closeOnce     sync.Once
	closeErr      error
}

// New builds the service.
//
// # Description
//
//  1. Applies defaults.
//  2. Initializes tracing.
//  3. Opens the graph.
//  4. Connects the vector store when configured. A store that cannot be
//     reached at startup is kept; /health reports it and requests retry.
//  5. Builds the LLM client, pipeline, ingester and watcher.
//  6. Registers routes.
//
// # Inputs
//
//   - cfg: Service configuration.
//   - opts: Injected dependencies. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a required component fails to start.
func New(cfg Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		s.registry = opts.Registry
		if s.registry == nil {
			s.registry = prometheus.NewRegistry()
			s.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		s.metrics = observability.NewMetrics(s.registry)
	}

	if err := s.initGraph(opts.Graph); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initVectorStore(opts.Store)

	client := opts.LLMClient
	if client == nil {
		client, err = llm.NewClient(s.config.LLM)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}
	s.pipeline = querygen.NewPipeline(s.graph, client, s.pipelineHooks())

	var index ingest.Indexer
	if s.store != nil {
		index = s.store
	}
	s.ingester = ingest.NewIngester(s.graph, index)

	if s.config.IngestDir != "" {
		s.watcher, err = ingest.NewWatcher(s.config.IngestDir, s.ingester, ingest.WatcherOptions{
			OnIngest: s.onWatchedIngest,
		})
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to watch ingest directory: %w", err)
		}
	}

	s.initRouter()
	return s, nil
}

// Run serves until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start ingest watcher: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// Close stops the watcher, closes the graph it opened and flushes traces.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cleanup()
	})
	return s.closeErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer installs the global tracer provider.
//
// # Limitations
//
//   - The OTLP connection is insecure gRPC, meant for a local collector.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch {
	case s.config.OTelEndpoint != "":
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	case s.config.TraceStdout:
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	default:
		return func(context.Context) {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

func (s *service) initGraph(injected *graphstore.Store) error {
	if injected != nil {
		s.graph = injected
		return nil
	}
	cfg := graphstore.InMemoryConfig()
	if s.config.GraphPath != "" {
		cfg = graphstore.DefaultConfig(s.config.GraphPath)
	}
	g, err := graphstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open graph: %w", err)
	}
	s.graph = g
	s.ownGraph = true
	if cfg.InMemory {
		slog.Warn("Graph path not configured, the graph lives in memory only")
	} else {
		slog.Info("Graph opened", "path", cfg.Path)
	}
	return nil
}

// initVectorStore connects Weaviate when a URL is configured.
func (s *service) initVectorStore(injected vectorstore.Store) {
	if injected != nil {
		s.store = injected
		return
	}
	if s.config.WeaviateURL == "" {
		slog.Info("Weaviate URL not configured, /db endpoints are disabled")
		return
	}
	store, err := vectorstore.New(vectorstore.Config{
		URL:        s.config.WeaviateURL,
		Vectorizer: s.config.WeaviateVectorizer,
	})
	if err != nil {
		slog.Warn("Weaviate initialization failed, /db endpoints are disabled", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Warn("Weaviate schema check failed", "url", s.config.WeaviateURL, "error", err)
	}
	s.store = store
	slog.Info("Weaviate client initialized", "url", s.config.WeaviateURL, "hybrid", store.Hybrid())
}

func (s *service) pipelineHooks() querygen.Hooks {
	return querygen.Hooks{
		QueryGenerated: func(query string) {
			slog.Debug("Generated query", "query", query)
		},
		StageFailed: func(stage querygen.Stage, err error) {
			if s.metrics != nil {
				s.metrics.RecordStageFailure(string(stage))
			}
		},
	}
}

func (s *service) onWatchedIngest(path string, sum ingest.Summary, err error) {
	if err != nil && !errors.Is(err, ingest.ErrIndexing) {
		slog.Error("Watched outline failed", "path", path, "error", err)
		return
	}
	if err != nil {
		slog.Warn("Watched outline ingested without vector index", "path", path, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordIngested(sum.Subtopics)
	}
	slog.Info("Watched outline ingested", "path", path, "subtopics", sum.Subtopics, "truncated", sum.Truncated)
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Logger(), middleware.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(middleware.CORS(s.config.CORSOrigins))

	deps := routes.Dependencies{
		Answerer:       s.pipeline,
		Graph:          s.graph,
		Ingester:       s.ingester,
		Store:          s.store,
		Metrics:        s.metrics,
		AdminToken:     s.config.AdminToken,
		RateLimiter:    middleware.NewIPRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst),
		MaxUploadBytes: s.config.MaxUploadBytes,
	}
	if s.registry != nil {
		deps.Gatherer = s.registry
	}
	routes.SetupRoutes(s.router, deps)
}

// cleanup releases everything New acquired.
func (s *service) cleanup() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	var err error
	if s.graph != nil && s.ownGraph {
		if cerr := s.graph.Close(); cerr != nil {
			err = fmt.Errorf("close graph: %w", cerr)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	return err
}

var _ Service = (*service)(nil)
